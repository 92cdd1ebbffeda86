package analytics

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/lorawan-server/lorawan-analytics/internal/models"
)

func TestDistributeSpreadingFactors(t *testing.T) {
	frames := []models.Frame{
		nestedFrame(7, 125000),
		nestedFrame(7, 125000),
		flatFrame(9, 125000),
		// DR0 in EU868 is SF12.
		withFrequency(flatFrame(0, 125000), 868100000),
		{},
		flatFrame(42, 125000),
	}
	d := DistributeSpreadingFactors(frames)

	if d.SF7 != 2 || d.SF9 != 1 || d.SF12 != 1 || d.SF8 != 0 {
		t.Errorf("buckets = %+v", d)
	}
	if d.Total != 4 {
		t.Errorf("Total = %d, want 4", d.Total)
	}
	if !almostEqual(d.Percentages["SF7"], 50, 1e-9) || !almostEqual(d.Percentages["SF9"], 25, 1e-9) {
		t.Errorf("Percentages = %v", d.Percentages)
	}
	sum := 0.0
	for _, p := range d.Percentages {
		sum += p
	}
	if !almostEqual(sum, 100, 1e-9) {
		t.Errorf("percentages sum to %v, want 100", sum)
	}
	if got := DominantSpreadingFactor(d); got != "SF7" {
		t.Errorf("DominantSpreadingFactor = %s, want SF7", got)
	}
}

func TestDistributeSpreadingFactors_Empty(t *testing.T) {
	d := DistributeSpreadingFactors(nil)
	if d.Total != 0 {
		t.Errorf("Total = %d, want 0", d.Total)
	}
	if len(d.Percentages) != 6 {
		t.Errorf("Percentages = %v, want all six keys", d.Percentages)
	}
	for k, p := range d.Percentages {
		if p != 0 {
			t.Errorf("Percentages[%s] = %v, want 0", k, p)
		}
	}
	if got := DominantSpreadingFactor(d); got != NoDominantSpreadingFactor {
		t.Errorf("DominantSpreadingFactor = %s, want N/A", got)
	}
}

func TestDominantSpreadingFactor_TieGoesToLowest(t *testing.T) {
	d := SpreadingFactorDistribution{SF10: 3, SF8: 3, SF12: 1, Total: 7}
	if got := DominantSpreadingFactor(d); got != "SF8" {
		t.Errorf("DominantSpreadingFactor = %s, want SF8", got)
	}
}

func TestDistributeFrequencies(t *testing.T) {
	frames := []models.Frame{
		withFrequency(models.Frame{}, 868100000),
		withFrequency(models.Frame{}, 868500000),
		withFrequency(models.Frame{}, 868100000),
		withFrequency(models.Frame{}, 903900000),
		withFrequency(models.Frame{}, 86810000), // 86.810 MHz sorts first numerically
		{},
	}
	d := DistributeFrequencies(frames)

	if d.Counts["868.100"] != 2 || d.Counts["868.500"] != 1 || d.Counts["903.900"] != 1 || d.Counts["86.810"] != 1 {
		t.Errorf("Counts = %v", d.Counts)
	}
	sum := 0
	for _, c := range d.Counts {
		sum += c
	}
	if d.Total != 5 || sum != d.Total {
		t.Errorf("Total = %d, bucket sum = %d, want 5", d.Total, sum)
	}

	want := []string{"86.810", "868.100", "868.500", "903.900"}
	if len(d.Frequencies) != len(want) {
		t.Fatalf("Frequencies = %v, want %v", d.Frequencies, want)
	}
	prev := -1.0
	for i, k := range d.Frequencies {
		if k != want[i] {
			t.Errorf("Frequencies[%d] = %s, want %s", i, k, want[i])
		}
		v, _ := strconv.ParseFloat(k, 64)
		if v <= prev {
			t.Errorf("Frequencies not ascending at %s", k)
		}
		prev = v
	}
}

func TestFrequencyDistribution_JSONShape(t *testing.T) {
	d := DistributeFrequencies([]models.Frame{withFrequency(models.Frame{}, 868100000)})
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["868.100"] != 1.0 || raw["total"] != 1.0 {
		t.Errorf("JSON = %s", data)
	}

	var back FrequencyDistribution
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Counts["868.100"] != 1 || back.Total != 1 || len(back.Frequencies) != 1 {
		t.Errorf("decoded = %+v", back)
	}
}

func TestDistributeFrequencies_EmptyListsAreNotNull(t *testing.T) {
	data, err := json.Marshal(DistributeFrequencies(nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"frequencies":[],"total":0}` {
		t.Errorf("JSON = %s", data)
	}
}

func TestFrequencyKey(t *testing.T) {
	if got := FrequencyKey(868100000); got != "868.100" {
		t.Errorf("FrequencyKey = %s, want 868.100", got)
	}
	if got := FrequencyKey(923200000); got != "923.200" {
		t.Errorf("FrequencyKey = %s, want 923.200", got)
	}
}
