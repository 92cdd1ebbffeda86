package analytics

import (
	"math"
	"time"

	"github.com/lorawan-server/lorawan-analytics/internal/models"
)

// baseTime keeps frame timestamps deterministic.
var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func fptr(v float64) *float64 { return &v }

func sptr(s string) *string { return &s }

// nestedFrame builds a frame with the modulation nested under "lora".
func nestedFrame(sf, bw float64) models.Frame {
	return models.Frame{
		DevEUI:     "0102030405060708",
		ReceivedAt: models.NewTimestamp(baseTime),
		DataRate: &models.DataRate{
			Modulation: "LORA",
			Nested:     &models.DataRateFields{SpreadingFactor: fptr(sf), Bandwidth: fptr(bw)},
		},
	}
}

// flatFrame builds a frame with the modulation set on the descriptor.
func flatFrame(sf, bw float64) models.Frame {
	return models.Frame{
		DevEUI:     "0102030405060708",
		ReceivedAt: models.NewTimestamp(baseTime),
		DataRate: &models.DataRate{
			Flat: models.DataRateFields{SpreadingFactor: fptr(sf), Bandwidth: fptr(bw)},
		},
	}
}

func at(f models.Frame, offset time.Duration) models.Frame {
	f.ReceivedAt = models.NewTimestamp(baseTime.Add(offset))
	return f
}

func withFrequency(f models.Frame, hz float64) models.Frame {
	f.Frequency = fptr(hz)
	return f
}

func withPayload(f models.Frame, b64 string) models.Frame {
	f.RawPayload = sptr(b64)
	return f
}

func rx(gateway string, rssi, snr *float64) models.GatewayReception {
	return models.GatewayReception{GatewayID: gateway, RSSI: rssi, SNR: snr}
}

func withRX(f models.Frame, receptions ...models.GatewayReception) models.Frame {
	f.RXInfo = receptions
	return f
}
