package analytics

import (
	"fmt"

	"github.com/lorawan-server/lorawan-analytics/internal/models"
)

const msPerHour = 3_600_000

// EnergyConfig describes the radio's power draw while transmitting.
type EnergyConfig struct {
	TxCurrentMa float64 `json:"txCurrentMa"`
	Voltage     float64 `json:"voltage"`
}

// DefaultEnergyConfig returns a typical SX127x module at +14 dBm.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{TxCurrentMa: 40, Voltage: 3.3}
}

// EnergyMetrics summarises transmit energy over a frame collection.
type EnergyMetrics struct {
	TotalEnergyMah          float64            `json:"totalEnergyMah"`
	AverageEnergyPerTx      float64            `json:"averageEnergyPerTx"`
	EnergyBySpreadingFactor map[string]float64 `json:"energyBySpreadingFactor"`
	PowerConsumptionMw      float64            `json:"powerConsumptionMw"`
}

// EnergyMah converts an airtime at the given current to milliamp hours.
func EnergyMah(airtimeMs, txCurrentMa float64) float64 {
	return airtimeMs / msPerHour * txCurrentMa
}

// PowerMw returns the transmit power draw.
func (c EnergyConfig) PowerMw() float64 {
	return c.TxCurrentMa * c.Voltage
}

// EstimateEnergy totals transmit energy over frames. The per transmission
// average divides by every frame, including frames whose airtime is unknown.
func EstimateEnergy(frames []models.Frame, cfg EnergyConfig) EnergyMetrics {
	return estimateEnergy(defaultResolver.resolveAll(frames, nil), cfg)
}

func estimateEnergy(resolved []resolvedFrame, cfg EnergyConfig) EnergyMetrics {
	m := EnergyMetrics{
		EnergyBySpreadingFactor: make(map[string]float64),
		PowerConsumptionMw:      cfg.PowerMw(),
	}
	for _, rf := range resolved {
		if !rf.hasAirtime {
			continue
		}
		e := EnergyMah(rf.airtimeMs, cfg.TxCurrentMa)
		m.TotalEnergyMah += e
		m.EnergyBySpreadingFactor[sfKey(rf.sf)] += e
	}
	if len(resolved) > 0 {
		m.AverageEnergyPerTx = m.TotalEnergyMah / float64(len(resolved))
	}
	return m
}

func sfKey(sf int) string {
	return fmt.Sprintf("SF%d", sf)
}
