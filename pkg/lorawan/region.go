package lorawan

// Band identifies a regional channel plan.
type Band string

const (
	BandEU868 Band = "EU868"
	BandUS915 Band = "US915"
	BandAS923 Band = "AS923"
	BandCN470 Band = "CN470"
)

// Band edges in Hz used by DefaultBandPlan.
const (
	US915MinFrequency = 902000000
	US915MaxFrequency = 928000000
	EU868MinFrequency = 863000000
	EU868MaxFrequency = 870000000
	AS923MinFrequency = 915000000
	AS923MaxFrequency = 928000000
	CN470MinFrequency = 470000000
	CN470MaxFrequency = 510000000
)

// Bandwidths in Hz.
const (
	Bandwidth125 = 125000
	Bandwidth250 = 250000
	Bandwidth500 = 500000
)

// RegionConfiguration represents region-specific configuration
type RegionConfiguration struct {
	Name Band
	// DataRates is indexed by DR. A zero SpreadFactor marks an index that is
	// RFU or not a LoRa modulation.
	DataRates []DataRate
}

// DataRate represents a data rate configuration
type DataRate struct {
	SpreadFactor int
	Bandwidth    int
}

// GetRegionConfiguration returns configuration for a region
func GetRegionConfiguration(band Band) *RegionConfiguration {
	switch band {
	case BandEU868:
		return &EU868Configuration
	case BandUS915:
		return &US915Configuration
	case BandAS923:
		return &AS923Configuration
	case BandCN470:
		return &CN470Configuration
	default:
		return &EU868Configuration
	}
}

// SpreadingFactor returns the spreading factor the region assigns to a DR
// index.
func (r *RegionConfiguration) SpreadingFactor(dr int) (int, bool) {
	if dr < 0 || dr >= len(r.DataRates) {
		return 0, false
	}
	sf := r.DataRates[dr].SpreadFactor
	if sf == 0 {
		return 0, false
	}
	return sf, true
}

// EU868Configuration for EU 868MHz band
var EU868Configuration = RegionConfiguration{
	Name: BandEU868,
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: Bandwidth125}, // DR0
		{SpreadFactor: 11, Bandwidth: Bandwidth125}, // DR1
		{SpreadFactor: 10, Bandwidth: Bandwidth125}, // DR2
		{SpreadFactor: 9, Bandwidth: Bandwidth125},  // DR3
		{SpreadFactor: 8, Bandwidth: Bandwidth125},  // DR4
		{SpreadFactor: 7, Bandwidth: Bandwidth125},  // DR5
		{SpreadFactor: 7, Bandwidth: Bandwidth250},  // DR6
		{}, // DR7 FSK
	},
}

// US915Configuration for US 915MHz band. AU915-style plans that put SF10 at
// DR0 resolve through this table as well.
var US915Configuration = RegionConfiguration{
	Name: BandUS915,
	DataRates: []DataRate{
		{SpreadFactor: 10, Bandwidth: Bandwidth125}, // DR0
		{SpreadFactor: 9, Bandwidth: Bandwidth125},  // DR1
		{SpreadFactor: 8, Bandwidth: Bandwidth125},  // DR2
		{SpreadFactor: 7, Bandwidth: Bandwidth125},  // DR3
		{SpreadFactor: 8, Bandwidth: Bandwidth500},  // DR4
		{}, // DR5
		{}, // DR6
		{}, // DR7
		{SpreadFactor: 12, Bandwidth: Bandwidth500}, // DR8
		{SpreadFactor: 11, Bandwidth: Bandwidth500}, // DR9
		{SpreadFactor: 10, Bandwidth: Bandwidth500}, // DR10
		{SpreadFactor: 9, Bandwidth: Bandwidth500},  // DR11
		{SpreadFactor: 8, Bandwidth: Bandwidth500},  // DR12
		{SpreadFactor: 7, Bandwidth: Bandwidth500},  // DR13
	},
}

// AS923Configuration for AS 923MHz band
var AS923Configuration = RegionConfiguration{
	Name: BandAS923,
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: Bandwidth125}, // DR0
		{SpreadFactor: 11, Bandwidth: Bandwidth125}, // DR1
		{SpreadFactor: 10, Bandwidth: Bandwidth125}, // DR2
		{SpreadFactor: 9, Bandwidth: Bandwidth125},  // DR3
		{SpreadFactor: 8, Bandwidth: Bandwidth125},  // DR4
		{SpreadFactor: 7, Bandwidth: Bandwidth125},  // DR5
		{SpreadFactor: 7, Bandwidth: Bandwidth250},  // DR6
	},
}

// CN470Configuration for China 470-510MHz band
var CN470Configuration = RegionConfiguration{
	Name: BandCN470,
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: Bandwidth125}, // DR0
		{SpreadFactor: 11, Bandwidth: Bandwidth125}, // DR1
		{SpreadFactor: 10, Bandwidth: Bandwidth125}, // DR2
		{SpreadFactor: 9, Bandwidth: Bandwidth125},  // DR3
		{SpreadFactor: 8, Bandwidth: Bandwidth125},  // DR4
		{SpreadFactor: 7, Bandwidth: Bandwidth125},  // DR5
	},
}

// BandRange maps an inclusive frequency range to a band.
type BandRange struct {
	Band  Band
	MinHz float64
	MaxHz float64
}

// Contains reports whether freq lies inside the range.
func (r BandRange) Contains(freq float64) bool {
	return freq >= r.MinHz && freq <= r.MaxHz
}

// BandPlan guesses which regional table a frame was sent under.
//
// The guess is best effort: regional allocations overlap (AS923 and US915
// share 915-928 MHz) and the first matching range wins. When no frequency is
// known, or it matches no range, a frame sent at WideBandwidth is assumed to
// come from WideBand and anything else from DefaultBand.
type BandPlan struct {
	Ranges        []BandRange
	WideBandwidth int
	WideBand      Band
	DefaultBand   Band
}

// DefaultBandPlan is the classifier used when no other plan is configured.
var DefaultBandPlan = BandPlan{
	Ranges: []BandRange{
		{Band: BandUS915, MinHz: US915MinFrequency, MaxHz: US915MaxFrequency},
		{Band: BandEU868, MinHz: EU868MinFrequency, MaxHz: EU868MaxFrequency},
		{Band: BandAS923, MinHz: AS923MinFrequency, MaxHz: AS923MaxFrequency},
		{Band: BandCN470, MinHz: CN470MinFrequency, MaxHz: CN470MaxFrequency},
	},
	WideBandwidth: Bandwidth500,
	WideBand:      BandUS915,
	DefaultBand:   BandEU868,
}

// Classify returns the band for a transmission. hasFreq and hasBandwidth
// report whether the corresponding value is known.
func (p BandPlan) Classify(freq float64, hasFreq bool, bandwidth int, hasBandwidth bool) Band {
	if hasFreq {
		for _, r := range p.Ranges {
			if r.Contains(freq) {
				return r.Band
			}
		}
	}
	if hasBandwidth && bandwidth == p.WideBandwidth {
		return p.WideBand
	}
	return p.DefaultBand
}

// SpreadingFactorForDR decodes a DR index to a spreading factor using the
// band the plan assigns to the transmission.
func (p BandPlan) SpreadingFactorForDR(dr int, freq float64, hasFreq bool, bandwidth int, hasBandwidth bool) (int, bool) {
	band := p.Classify(freq, hasFreq, bandwidth, hasBandwidth)
	return GetRegionConfiguration(band).SpreadingFactor(dr)
}
