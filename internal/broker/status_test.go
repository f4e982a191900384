package broker

import (
	"strings"
	"testing"
)

func TestVendorStatusMapsComplete(t *testing.T) {
	if err := validateStatusMap("kite", kiteStatuses, kiteStatusMap); err != nil {
		t.Errorf("kite status map: %v", err)
	}
	if err := validateStatusMap("xts", xtsStatuses, xtsStatusMap); err != nil {
		t.Errorf("xts status map: %v", err)
	}
}

func TestValidateStatusMapFailsLoudly(t *testing.T) {
	statuses := append([]string{}, kiteStatuses...)
	statuses = append(statuses, "SOME NEW VENDOR STATE")

	err := validateStatusMap("kite", statuses, kiteStatusMap)
	if err == nil {
		t.Fatal("missing mapping must fail validation")
	}
	if !strings.Contains(err.Error(), "SOME NEW VENDOR STATE") {
		t.Errorf("error should name the unmapped status, got: %v", err)
	}
}

func TestMapStatusRejectsUnknown(t *testing.T) {
	if _, err := mapStatus("kite", kiteStatusMap, "TOTALLY UNKNOWN"); err == nil {
		t.Error("unknown vendor status must error, not default")
	}

	st, err := mapStatus("xts", xtsStatusMap, "PartiallyFilled")
	if err != nil {
		t.Fatalf("mapStatus: %v", err)
	}
	if st != StatusPartial {
		t.Errorf("PartiallyFilled = %s, want PARTIAL", st)
	}
}

func TestStatusNormalization(t *testing.T) {
	cases := []struct {
		vendor string
		raw    string
		want   OrderStatus
	}{
		{"kite", "TRIGGER PENDING", StatusOpen},
		{"kite", "COMPLETE", StatusComplete},
		{"kite", "REJECTED", StatusRejected},
		{"xts", "Filled", StatusComplete},
		{"xts", "PendingCancel", StatusOpen},
		{"xts", "Cancelled", StatusCancelled},
	}
	for _, tc := range cases {
		mapping := kiteStatusMap
		if tc.vendor == "xts" {
			mapping = xtsStatusMap
		}
		got, err := mapStatus(tc.vendor, mapping, tc.raw)
		if err != nil {
			t.Errorf("%s %q: %v", tc.vendor, tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s %q = %s, want %s", tc.vendor, tc.raw, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []OrderStatus{StatusComplete, StatusCancelled, StatusRejected}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StatusOpen.IsTerminal() || StatusPartial.IsTerminal() {
		t.Error("OPEN and PARTIAL are not terminal")
	}
}
