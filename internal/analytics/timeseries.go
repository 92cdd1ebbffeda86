package analytics

import (
	"sort"
	"time"

	"github.com/lorawan-server/lorawan-analytics/internal/models"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"

	// chartTxCurrentMa is the current used for per-point energy, regardless of
	// the energy configuration of the run.
	chartTxCurrentMa = 40
)

// TimeSeriesPoint is the chart view of one frame.
type TimeSeriesPoint struct {
	Timestamp       string   `json:"timestamp"`
	TimestampMs     int64    `json:"timestampMs"`
	RSSI            *float64 `json:"rssi,omitempty"`
	SNR             *float64 `json:"snr,omitempty"`
	SpreadingFactor *int     `json:"spreadingFactor,omitempty"`
	Airtime         *float64 `json:"airtime,omitempty"`
	Energy          *float64 `json:"energy,omitempty"`
	GatewayCount    int      `json:"gatewayCount"`
	Frequency       *float64 `json:"frequency,omitempty"`
}

// AssembleTimeSeries returns one point per frame in chronological order.
func AssembleTimeSeries(frames []models.Frame) []TimeSeriesPoint {
	return assembleTimeSeries(defaultResolver.resolveAll(frames, nil), nil)
}

func assembleTimeSeries(resolved []resolvedFrame, diag *diagnostics) []TimeSeriesPoint {
	points := make([]TimeSeriesPoint, 0, len(resolved))
	for _, rf := range resolved {
		f := rf.frame

		at := time.Unix(0, 0).UTC()
		if f.ReceivedAt.Valid {
			at = f.ReceivedAt.Time.UTC()
		} else {
			diag.add(rf.index, f, CodeInvalidTimestamp, "receivedAt is missing or not a valid instant")
		}

		p := TimeSeriesPoint{
			Timestamp:    at.Format(timestampLayout),
			TimestampMs:  at.UnixMilli(),
			GatewayCount: len(f.RXInfo),
		}
		if best := BestGateway(f.RXInfo); best != nil {
			p.RSSI = copyFloat(best.RSSI)
			p.SNR = copyFloat(best.SNR)
		}
		if rf.hasSF {
			sf := rf.sf
			p.SpreadingFactor = &sf
		}
		if rf.hasAirtime {
			airtime := rf.airtimeMs
			energy := EnergyMah(airtime, chartTxCurrentMa)
			p.Airtime = &airtime
			p.Energy = &energy
		}
		if hz, ok := frequency(f); ok {
			mhz := hz / 1e6
			p.Frequency = &mhz
		}
		points = append(points, p)
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].TimestampMs < points[j].TimestampMs
	})
	return points
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
