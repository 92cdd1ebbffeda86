package analytics

import (
	"errors"
	"testing"
)

func TestAirtime_ReferencePoints(t *testing.T) {
	tests := []struct {
		name   string
		params AirtimeParams
		wantMs float64
	}{
		// 12.25 preamble + 38 payload symbols of 1.024ms, straight from the
		// Semtech formula, not the rounded 41.98ms sometimes quoted for it.
		{"sf7 bw125 20 bytes", DefaultAirtimeParams(7, 125000, 20), 51.456},
		// Low data rate optimisation on: 12.25 + 18 symbols of 32.768ms.
		{"sf12 bw125 10 bytes", DefaultAirtimeParams(12, 125000, 10), 991.232},
		// Negative payload term clamps to the 8 symbol minimum.
		{"sf9 bw500 empty", DefaultAirtimeParams(9, 500000, 0), 20.736},
		{"sf7 bw125 explicit header", AirtimeParams{
			SpreadingFactor: 7, Bandwidth: 125000, PayloadBytes: 20,
			CodingRate: 1, PreambleSymbols: 8, ExplicitHeader: true, CRCEnabled: true,
		}, 56.576},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Airtime(tt.params)
			if err != nil {
				t.Fatalf("Airtime: %v", err)
			}
			if !almostEqual(got, tt.wantMs, 1e-9) {
				t.Errorf("Airtime = %.6f ms, want %.6f ms", got, tt.wantMs)
			}
		})
	}
}

func TestAirtime_LowDataRateOptimisationRaisesAirtime(t *testing.T) {
	sf11 := ComputeAirtimeMs(DefaultAirtimeParams(11, 125000, 51))
	sf11Wide := ComputeAirtimeMs(DefaultAirtimeParams(11, 250000, 51))
	if sf11 <= 2*sf11Wide {
		t.Errorf("SF11/125k = %.3f should exceed twice SF11/250k = %.3f", sf11, sf11Wide)
	}
}

func TestAirtime_InvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		params  AirtimeParams
		wantErr error
	}{
		{"sf13", DefaultAirtimeParams(13, 125000, 20), ErrInvalidSpreadingFactor},
		{"sf6", DefaultAirtimeParams(6, 125000, 20), ErrInvalidSpreadingFactor},
		{"bw100k", DefaultAirtimeParams(7, 100000, 20), ErrInvalidBandwidth},
		{"bw0", DefaultAirtimeParams(7, 0, 20), ErrInvalidBandwidth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Airtime(tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if got != 0 {
				t.Errorf("Airtime = %v, want exactly 0", got)
			}
			if ms := ComputeAirtimeMs(tt.params); ms != 0 {
				t.Errorf("ComputeAirtimeMs = %v, want exactly 0", ms)
			}
		})
	}
}

func TestAirtime_GrowsWithPayload(t *testing.T) {
	prev := 0.0
	for pl := 0; pl <= 242; pl += 11 {
		ms := ComputeAirtimeMs(DefaultAirtimeParams(9, 125000, pl))
		if ms < prev {
			t.Fatalf("airtime decreased at %d bytes: %.3f < %.3f", pl, ms, prev)
		}
		prev = ms
	}
}
