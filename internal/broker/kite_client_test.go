package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const kiteInstrumentDump = `instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange
738561,2885,RELIANCE,RELIANCE INDUSTRIES,0,,0,0.05,1,EQ,NSE,NSE
2953217,11536,TCS,TATA CONSULTANCY SERV LT,0,,0,0.05,1,EQ,NSE,NSE
9604354,37517,NIFTY24SEPFUT,NIFTY,0,2024-09-26,0,0.05,25,FUT,NFO-FUT,NFO
`

func TestKiteLoadInstruments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instruments/NSE" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "token ") {
			t.Errorf("missing token auth header, got %q", got)
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(kiteInstrumentDump))
	}))
	defer server.Close()

	client, err := NewKiteClient("key", "access", server.URL)
	if err != nil {
		t.Fatalf("NewKiteClient: %v", err)
	}
	if err := client.LoadInstruments(context.Background()); err != nil {
		t.Fatalf("LoadInstruments: %v", err)
	}

	if got := client.instrumentTokens["RELIANCE"]; got != 738561 {
		t.Errorf("RELIANCE token = %d, want 738561", got)
	}
	if got := client.instrumentTokens["TCS"]; got != 2953217 {
		t.Errorf("TCS token = %d, want 2953217", got)
	}
	if _, ok := client.instrumentTokens["NIFTY24SEPFUT"]; ok {
		t.Error("derivative rows must be filtered out of the equity map")
	}
}

func TestKiteLoadInstrumentsEmptyDump(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("instrument_token,exchange_token,tradingsymbol,instrument_type\n"))
	}))
	defer server.Close()

	client, err := NewKiteClient("key", "access", server.URL)
	if err != nil {
		t.Fatalf("NewKiteClient: %v", err)
	}
	if err := client.LoadInstruments(context.Background()); err == nil {
		t.Error("an empty dump must fail loudly, not leave the map empty")
	}
}

func TestParseKiteInstrumentsMissingColumns(t *testing.T) {
	_, err := parseKiteInstruments(strings.NewReader("foo,bar\n1,2\n"))
	if err == nil {
		t.Error("a dump without the token column must be rejected")
	}
}

func TestKiteHistoricalRequiresInstrumentMap(t *testing.T) {
	client, err := NewKiteClient("key", "access", "http://127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewKiteClient: %v", err)
	}
	if _, err := client.GetHistoricalCandles(context.Background(), "RELIANCE", "5minute", 20); err == nil {
		t.Error("candles without a loaded instrument map must fail")
	}
}
