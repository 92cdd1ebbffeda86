package lorawan

import "testing"

func TestBandPlan_Classify(t *testing.T) {
	tests := []struct {
		name      string
		freq      float64
		hasFreq   bool
		bandwidth int
		hasBW     bool
		want      Band
	}{
		{"eu868 channel", 868100000, true, Bandwidth125, true, BandEU868},
		{"us915 channel", 915000000, true, Bandwidth500, true, BandUS915},
		{"us915 lower edge", US915MinFrequency, true, Bandwidth125, true, BandUS915},
		{"as923 overlaps us915", 923200000, true, Bandwidth125, true, BandUS915},
		{"cn470 channel", 470300000, true, Bandwidth125, true, BandCN470},
		{"no frequency wide bandwidth", 0, false, Bandwidth500, true, BandUS915},
		{"no frequency narrow bandwidth", 0, false, Bandwidth125, true, BandEU868},
		{"nothing known", 0, false, 0, false, BandEU868},
		{"unknown band falls back on bandwidth", 433175000, true, Bandwidth500, true, BandUS915},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultBandPlan.Classify(tt.freq, tt.hasFreq, tt.bandwidth, tt.hasBW)
			if got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBandPlan_CustomRangesReachAS923(t *testing.T) {
	plan := BandPlan{
		Ranges: []BandRange{
			{Band: BandUS915, MinHz: 902000000, MaxHz: 914900000},
			{Band: BandAS923, MinHz: AS923MinFrequency, MaxHz: AS923MaxFrequency},
		},
		WideBandwidth: Bandwidth500,
		WideBand:      BandUS915,
		DefaultBand:   BandEU868,
	}
	if got := plan.Classify(923200000, true, Bandwidth125, true); got != BandAS923 {
		t.Errorf("Classify() = %s, want %s", got, BandAS923)
	}
}

func TestSpreadingFactorForDR(t *testing.T) {
	tests := []struct {
		name      string
		dr        int
		freq      float64
		hasFreq   bool
		bandwidth int
		wantSF    int
		wantOK    bool
	}{
		{"eu868 dr0", 0, 868100000, true, Bandwidth125, 12, true},
		{"eu868 dr5", 5, 868100000, true, Bandwidth125, 7, true},
		{"eu868 dr7 fsk", 7, 868100000, true, Bandwidth125, 0, false},
		{"us915 dr0", 0, 915000000, true, Bandwidth500, 10, true},
		{"us915 dr4", 4, 903900000, true, Bandwidth500, 8, true},
		{"us915 dr5 rfu", 5, 903900000, true, Bandwidth125, 0, false},
		{"us915 dr13", 13, 923300000, true, Bandwidth500, 7, true},
		{"out of table", 42, 868100000, true, Bandwidth125, 0, false},
		{"negative index", -1, 868100000, true, Bandwidth125, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf, ok := DefaultBandPlan.SpreadingFactorForDR(tt.dr, tt.freq, tt.hasFreq, tt.bandwidth, true)
			if ok != tt.wantOK || sf != tt.wantSF {
				t.Errorf("SpreadingFactorForDR(%d) = (%d, %v), want (%d, %v)", tt.dr, sf, ok, tt.wantSF, tt.wantOK)
			}
		})
	}
}

func TestGetRegionConfiguration_DefaultsToEU868(t *testing.T) {
	if got := GetRegionConfiguration("XX000"); got.Name != BandEU868 {
		t.Errorf("GetRegionConfiguration(unknown) = %s, want %s", got.Name, BandEU868)
	}
}

func TestParseEUI64(t *testing.T) {
	eui, err := ParseEUI64("0123456789ABCDEF")
	if err != nil {
		t.Fatalf("ParseEUI64: %v", err)
	}
	if eui.String() != "0123456789abcdef" {
		t.Errorf("String() = %s", eui.String())
	}
	if eui.Upper() != "0123456789ABCDEF" {
		t.Errorf("Upper() = %s", eui.Upper())
	}

	for _, bad := range []string{"", "0123", "0123456789ABCDEG", "0123456789ABCDEF00", "0123' OR '1"} {
		if _, err := ParseEUI64(bad); err == nil {
			t.Errorf("ParseEUI64(%q) succeeded, want error", bad)
		}
	}
}
