package analytics

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/lorawan-server/lorawan-analytics/internal/models"
)

// NoDominantSpreadingFactor is reported for an empty distribution.
const NoDominantSpreadingFactor = "N/A"

// SpreadingFactorDistribution counts frames per spreading factor.
type SpreadingFactorDistribution struct {
	SF7         int                `json:"SF7"`
	SF8         int                `json:"SF8"`
	SF9         int                `json:"SF9"`
	SF10        int                `json:"SF10"`
	SF11        int                `json:"SF11"`
	SF12        int                `json:"SF12"`
	Total       int                `json:"total"`
	Percentages map[string]float64 `json:"percentages"`
}

// Count returns the bucket for sf, zero outside 7..12.
func (d SpreadingFactorDistribution) Count(sf int) int {
	if p := d.bucket(sf); p != nil {
		return *p
	}
	return 0
}

func (d *SpreadingFactorDistribution) bucket(sf int) *int {
	switch sf {
	case 7:
		return &d.SF7
	case 8:
		return &d.SF8
	case 9:
		return &d.SF9
	case 10:
		return &d.SF10
	case 11:
		return &d.SF11
	case 12:
		return &d.SF12
	}
	return nil
}

// DistributeSpreadingFactors builds the spreading factor histogram of frames.
// Frames without a resolvable spreading factor are left out.
func DistributeSpreadingFactors(frames []models.Frame) SpreadingFactorDistribution {
	return distributeSpreadingFactors(defaultResolver.resolveAll(frames, nil))
}

func distributeSpreadingFactors(resolved []resolvedFrame) SpreadingFactorDistribution {
	var d SpreadingFactorDistribution
	for _, rf := range resolved {
		if !rf.hasSF {
			continue
		}
		if p := d.bucket(rf.sf); p != nil {
			*p++
			d.Total++
		}
	}

	d.Percentages = make(map[string]float64, MaxSpreadingFactor-MinSpreadingFactor+1)
	for sf := MinSpreadingFactor; sf <= MaxSpreadingFactor; sf++ {
		pct := 0.0
		if d.Total > 0 {
			pct = float64(d.Count(sf)) / float64(d.Total) * 100
		}
		d.Percentages[sfKey(sf)] = pct
	}
	return d
}

// DominantSpreadingFactor returns the most used spreading factor as "SFn".
// Ties go to the lowest spreading factor.
func DominantSpreadingFactor(d SpreadingFactorDistribution) string {
	if d.Total == 0 {
		return NoDominantSpreadingFactor
	}
	best, bestCount := 0, -1
	for sf := MinSpreadingFactor; sf <= MaxSpreadingFactor; sf++ {
		if c := d.Count(sf); c > bestCount {
			best, bestCount = sf, c
		}
	}
	return sfKey(best)
}

// FrequencyDistribution counts frames per channel, keyed by the frequency in
// MHz with three decimals.
type FrequencyDistribution struct {
	Counts      map[string]int
	Total       int
	Frequencies []string
}

// MarshalJSON writes each bucket as a top-level key next to total and
// frequencies.
func (d FrequencyDistribution) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Counts)+2)
	for k, v := range d.Counts {
		out[k] = v
	}
	out["total"] = d.Total
	out["frequencies"] = d.Frequencies
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (d *FrequencyDistribution) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = FrequencyDistribution{Counts: make(map[string]int), Frequencies: []string{}}
	for k, v := range raw {
		var err error
		switch k {
		case "total":
			err = json.Unmarshal(v, &d.Total)
		case "frequencies":
			err = json.Unmarshal(v, &d.Frequencies)
		default:
			var n int
			if err = json.Unmarshal(v, &n); err == nil {
				d.Counts[k] = n
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// FrequencyKey formats a frequency in Hz as its bucket key, e.g. "868.100".
func FrequencyKey(hz float64) string {
	return strconv.FormatFloat(hz/1e6, 'f', 3, 64)
}

// DistributeFrequencies builds the channel histogram of frames.
func DistributeFrequencies(frames []models.Frame) FrequencyDistribution {
	d := FrequencyDistribution{Counts: make(map[string]int), Frequencies: []string{}}
	for i := range frames {
		hz, ok := frequency(&frames[i])
		if !ok {
			continue
		}
		d.Counts[FrequencyKey(hz)]++
		d.Total++
	}

	for k := range d.Counts {
		d.Frequencies = append(d.Frequencies, k)
	}
	sort.Slice(d.Frequencies, func(i, j int) bool {
		a, _ := strconv.ParseFloat(d.Frequencies[i], 64)
		b, _ := strconv.ParseFloat(d.Frequencies[j], 64)
		return a < b
	})
	return d
}
