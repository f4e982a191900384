package regime

import (
	"testing"
	"time"
)

func TestClassifyStrongUptrend(t *testing.T) {
	snap := Classify(BreadthInputs{
		Advancers:     80,
		Decliners:     20,
		AboveSMA:      85,
		UniverseSize:  100,
		IndexMomentum: 1.05,
		IndexATRPct:   0.8,
	}, time.Now())

	if snap.Label != StrongUptrend {
		t.Errorf("label = %s, want STRONG_UPTREND", snap.Label)
	}
	if snap.VolBucket != VolLow {
		t.Errorf("vol bucket = %s, want LOW", snap.VolBucket)
	}
	if snap.Confidence <= 0.5 {
		t.Errorf("confidence = %.2f, want above 0.5 for a strong reading", snap.Confidence)
	}
}

func TestClassifyStrongDowntrend(t *testing.T) {
	snap := Classify(BreadthInputs{
		Advancers:     10,
		Decliners:     90,
		AboveSMA:      10,
		UniverseSize:  100,
		IndexMomentum: 0.94,
		IndexATRPct:   4.5,
	}, time.Now())

	if snap.Label != StrongDowntrend {
		t.Errorf("label = %s, want STRONG_DOWNTREND", snap.Label)
	}
	if snap.VolBucket != VolExtreme {
		t.Errorf("vol bucket = %s, want EXTREME", snap.VolBucket)
	}
}

func TestClassifyChoppy(t *testing.T) {
	snap := Classify(BreadthInputs{
		Advancers:     50,
		Decliners:     50,
		AboveSMA:      50,
		UniverseSize:  100,
		IndexMomentum: 1.0,
		IndexATRPct:   1.5,
	}, time.Now())

	if snap.Label != Choppy {
		t.Errorf("label = %s, want CHOPPY", snap.Label)
	}
}

func TestBucketVolatility(t *testing.T) {
	cases := []struct {
		atrPct float64
		want   VolBucket
	}{
		{0.5, VolLow},
		{1.5, VolMedium},
		{2.5, VolHigh},
		{5.0, VolExtreme},
	}
	for _, tc := range cases {
		if got := BucketVolatility(tc.atrPct); got != tc.want {
			t.Errorf("BucketVolatility(%.1f) = %s, want %s", tc.atrPct, got, tc.want)
		}
	}
}

func TestSnapshotIsStale(t *testing.T) {
	var nilSnap *Snapshot
	if !nilSnap.IsStale(time.Hour) {
		t.Error("nil snapshot must be stale")
	}

	fresh := &Snapshot{GeneratedAt: time.Now().Add(-1 * time.Hour)}
	if fresh.IsStale(24 * time.Hour) {
		t.Error("1h-old snapshot must be fresh against a 24h cutoff")
	}

	old := &Snapshot{GeneratedAt: time.Now().Add(-25 * time.Hour)}
	if !old.IsStale(24 * time.Hour) {
		t.Error("25h-old snapshot must be stale against a 24h cutoff")
	}
}

func TestChanged(t *testing.T) {
	a := &Snapshot{Label: Uptrend}
	b := &Snapshot{Label: Choppy}

	if Changed(a, a) {
		t.Error("same label is not a change")
	}
	if !Changed(a, b) {
		t.Error("different labels are a change")
	}
	if !Changed(nil, a) {
		t.Error("nil to snapshot is a change")
	}
	if Changed(nil, nil) {
		t.Error("nil to nil is not a change")
	}
}
