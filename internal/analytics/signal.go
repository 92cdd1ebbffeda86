package analytics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lorawan-server/lorawan-analytics/internal/models"
)

// missingRSSI ranks receptions without an RSSI below any real reading.
const missingRSSI = -999

// GatewaySignal is the per-gateway part of SignalQualityMetrics.
type GatewaySignal struct {
	AvgRSSI     float64 `json:"avgRssi"`
	AvgSNR      float64 `json:"avgSnr"`
	SampleCount int     `json:"sampleCount"`
}

// SignalQualityMetrics aggregates RSSI and SNR over every gateway reception.
type SignalQualityMetrics struct {
	AverageRSSI  float64                  `json:"averageRSSI"`
	MinRSSI      float64                  `json:"minRSSI"`
	MaxRSSI      float64                  `json:"maxRSSI"`
	AverageSNR   float64                  `json:"averageSNR"`
	MinSNR       float64                  `json:"minSNR"`
	MaxSNR       float64                  `json:"maxSNR"`
	GatewayCount int                      `json:"gatewayCount"`
	Gateways     map[string]GatewaySignal `json:"gateways"`
}

type gatewaySamples struct {
	rssi  []float64
	snr   []float64
	count int
}

// AggregateSignal reduces all receptions of frames. Receptions without a
// gateway id count towards the global figures only.
func AggregateSignal(frames []models.Frame) SignalQualityMetrics {
	var rssi, snr []float64
	byGateway := make(map[string]*gatewaySamples)

	for i := range frames {
		for _, rx := range frames[i].RXInfo {
			if rx.RSSI != nil {
				rssi = append(rssi, *rx.RSSI)
			}
			if rx.SNR != nil {
				snr = append(snr, *rx.SNR)
			}
			if rx.GatewayID == "" {
				continue
			}
			g, ok := byGateway[rx.GatewayID]
			if !ok {
				g = &gatewaySamples{}
				byGateway[rx.GatewayID] = g
			}
			g.count++
			if rx.RSSI != nil {
				g.rssi = append(g.rssi, *rx.RSSI)
			}
			if rx.SNR != nil {
				g.snr = append(g.snr, *rx.SNR)
			}
		}
	}

	m := SignalQualityMetrics{
		GatewayCount: len(byGateway),
		Gateways:     make(map[string]GatewaySignal, len(byGateway)),
	}
	m.AverageRSSI, m.MinRSSI, m.MaxRSSI = summarize(rssi)
	m.AverageSNR, m.MinSNR, m.MaxSNR = summarize(snr)
	for id, g := range byGateway {
		m.Gateways[id] = GatewaySignal{
			AvgRSSI:     mean(g.rssi),
			AvgSNR:      mean(g.snr),
			SampleCount: g.count,
		}
	}
	return m
}

// BestGateway returns the reception with the highest RSSI, or nil when there
// are none. The first of equal readings wins.
func BestGateway(receptions []models.GatewayReception) *models.GatewayReception {
	var best *models.GatewayReception
	bestRSSI := 0.0
	for i := range receptions {
		r := rssiOrMissing(&receptions[i])
		if best == nil || r > bestRSSI {
			best, bestRSSI = &receptions[i], r
		}
	}
	return best
}

func rssiOrMissing(rx *models.GatewayReception) float64 {
	if rx.RSSI == nil {
		return missingRSSI
	}
	return *rx.RSSI
}

func summarize(values []float64) (avg, lo, hi float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	return stat.Mean(values, nil), floats.Min(values), floats.Max(values)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}
