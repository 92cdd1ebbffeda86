package analytics

import (
	"errors"
	"fmt"
	"math"

	"github.com/lorawan-server/lorawan-analytics/pkg/lorawan"
)

var (
	ErrInvalidSpreadingFactor = errors.New("spreading factor must be between 7 and 12")
	ErrInvalidBandwidth       = errors.New("bandwidth must be 125000, 250000 or 500000 Hz")
)

// AirtimeParams are the modulation options of one transmission.
type AirtimeParams struct {
	SpreadingFactor int  `json:"spreadingFactor"`
	Bandwidth       int  `json:"bandwidth"`
	PayloadBytes    int  `json:"payloadBytes"`
	CodingRate      int  `json:"codingRate"` // 1 for 4/5 up to 4 for 4/8
	PreambleSymbols int  `json:"preambleSymbols"`
	ExplicitHeader  bool `json:"explicitHeader"`
	CRCEnabled      bool `json:"crcEnabled"`
}

// DefaultAirtimeParams returns params with coding rate 4/5, an 8 symbol
// preamble, implicit header and CRC on.
func DefaultAirtimeParams(sf, bandwidth, payloadBytes int) AirtimeParams {
	return AirtimeParams{
		SpreadingFactor: sf,
		Bandwidth:       bandwidth,
		PayloadBytes:    payloadBytes,
		CodingRate:      1,
		PreambleSymbols: 8,
		CRCEnabled:      true,
	}
}

// Airtime returns the time on air in milliseconds following the Semtech
// SX127x airtime model.
func Airtime(p AirtimeParams) (float64, error) {
	if p.SpreadingFactor < MinSpreadingFactor || p.SpreadingFactor > MaxSpreadingFactor {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidSpreadingFactor, p.SpreadingFactor)
	}
	switch p.Bandwidth {
	case lorawan.Bandwidth125, lorawan.Bandwidth250, lorawan.Bandwidth500:
	default:
		return 0, fmt.Errorf("%w: got %d", ErrInvalidBandwidth, p.Bandwidth)
	}

	sf := float64(p.SpreadingFactor)
	symbolTime := math.Pow(2, sf) / float64(p.Bandwidth)

	// Low data rate optimisation is mandated once symbols exceed 16ms.
	de := 0.0
	if p.SpreadingFactor >= 11 && p.Bandwidth == lorawan.Bandwidth125 {
		de = 1
	}
	ih := 1.0
	if p.ExplicitHeader {
		ih = 0
	}
	crc := 0.0
	if p.CRCEnabled {
		crc = 1
	}

	numerator := 8*float64(p.PayloadBytes) - 4*sf + 28 + 16*crc - 20*ih
	payloadSymbols := 8 + math.Max(0, math.Ceil(numerator/(4*(sf-2*de)))*float64(p.CodingRate+4))

	preamble := (float64(p.PreambleSymbols) + 4.25) * symbolTime
	payload := payloadSymbols * symbolTime
	return (preamble + payload) * 1000, nil
}

// ComputeAirtimeMs is Airtime with invalid parameters mapped to zero.
func ComputeAirtimeMs(p AirtimeParams) float64 {
	ms, err := Airtime(p)
	if err != nil {
		return 0
	}
	return ms
}
