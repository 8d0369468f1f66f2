package rdd

import (
	"math"
	"testing"

	"github.com/kshedden/dstream/dstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeTable builds a single-chunk observation table.
func makeTable(names []string, cols ...[]float64) dstream.Dstream {
	data := make([]interface{}, len(cols))
	for i, c := range cols {
		data[i] = c
	}
	return dstream.NewFromFlat(data, names)
}

func obsNames() []string {
	return []string{"hhid", "year", "income", "region", "age",
		"female", "childofhead", "urban", "hhsize", "headeduc", "head",
		"attend", "inpanel"}
}

func TestBuildHouseholds(t *testing.T) {
	nan := math.NaN()
	ds := makeTable(obsNames(),
		// hh1: head + boy(8) + girl(9); hh2: head + boy(7);
		// hh3: head only; hh4: missing income.
		[]float64{1, 1, 1, 2, 2, 3, 4},        // hhid
		[]float64{2018, 2018, 2018, 2018, 2018, 2018, 2018}, // year
		[]float64{900, 900, 900, 1200, 1200, 800, nan},      // income
		[]float64{5, 5, 5, 6, 6, 7, 7},        // region
		[]float64{35, 8, 9, 40, 7, 50, 30},    // age
		[]float64{1, 0, 1, 1, 0, 1, 1},        // female
		[]float64{0, 1, 1, 0, 1, 0, 0},        // childofhead
		[]float64{1, 1, 1, 0, 0, 1, 1},        // urban
		[]float64{3, 3, 3, 2, 2, 1, 1},        // hhsize
		[]float64{8, nan, nan, 11, nan, 5, 3}, // headeduc
		[]float64{1, 0, 0, 1, 0, 1, 1},        // head
		[]float64{nan, 1, 0, nan, 1, nan, nan}, // attend
		[]float64{0, 0, 0, 0, 0, 0, 0},        // inpanel
	)

	sg := Subgroups()[0] // all children of head, ages 6-11
	require.Equal(t, "all_6_11", sg.Name)

	rc := RunningConfig{Threshold: 1000}
	sub, err := BuildHouseholds(ds, DefaultColumns(), sg, "attend", rc, 2018)
	require.NoError(t, err)

	// hh4 never enters (missing income); hh3 is counted but dropped
	// for having no subgroup members.
	assert.Equal(t, 3, sub.TotalHouseholds)
	assert.Equal(t, 1, sub.DroppedMissing)
	require.Len(t, sub.Running, 2)

	assert.Equal(t, []float64{-100, 200}, sub.Running)
	assert.Equal(t, []float64{0.5, 1}, sub.Y)
	assert.Equal(t, []int{5, 6}, sub.Region)
	assert.Equal(t, []float64{3, 2}, sub.Controls[0])          // size
	assert.Equal(t, []float64{1, 0}, sub.Controls[1])          // urban
	assert.InDelta(t, 1.0/3, sub.Controls[2][0], 1e-12)        // prop male
	assert.InDelta(t, 0.5, sub.Controls[2][1], 1e-12)
	assert.Equal(t, []float64{8, 11}, sub.Education)
}

func TestBuildHouseholdsOneRowPerHousehold(t *testing.T) {
	ds := makeTable(obsNames(),
		[]float64{9, 9, 9, 9},
		[]float64{2018, 2018, 2018, 2018},
		[]float64{500, 500, 500, 500},
		[]float64{1, 1, 1, 1},
		[]float64{30, 6, 10, 11},
		[]float64{1, 0, 1, 0},
		[]float64{0, 1, 1, 1},
		[]float64{0, 0, 0, 0},
		[]float64{4, 4, 4, 4},
		[]float64{9, 9, 9, 9},
		[]float64{1, 0, 0, 0},
		[]float64{math.NaN(), 1, 1, 0},
		[]float64{0, 0, 0, 0},
	)

	sub, err := BuildHouseholds(ds, DefaultColumns(), Subgroups()[0], "attend", RunningConfig{Threshold: 600}, math.NaN())
	require.NoError(t, err)
	require.Len(t, sub.Running, 1)
	assert.InDelta(t, 2.0/3, sub.Y[0], 1e-12)
}

func TestBuildHouseholdsBaseYearFilter(t *testing.T) {
	// The same household id recurs in a later cross-section with a
	// different income and outcome; only the base-year rows may enter.
	ds := makeTable(obsNames(),
		[]float64{1, 1, 1, 1},
		[]float64{2018, 2018, 2019, 2019},
		[]float64{900, 900, 1400, 1400},
		[]float64{5, 5, 5, 5},
		[]float64{35, 8, 36, 9},
		[]float64{1, 0, 1, 0},
		[]float64{0, 1, 0, 1},
		[]float64{1, 1, 1, 1},
		[]float64{2, 2, 2, 2},
		[]float64{8, math.NaN(), 8, math.NaN()},
		[]float64{1, 0, 1, 0},
		[]float64{math.NaN(), 1, math.NaN(), 0},
		[]float64{0, 0, 0, 0},
	)

	rc := RunningConfig{Threshold: 1000}
	sub, err := BuildHouseholds(ds, DefaultColumns(), Subgroups()[0], "attend", rc, 2018)
	require.NoError(t, err)

	require.Len(t, sub.Running, 1)
	assert.Equal(t, -100.0, sub.Running[0], "income comes from the base year")
	assert.Equal(t, 1.0, sub.Y[0], "outcome comes from the base year")
}

func TestBuildHouseholdsWeighted(t *testing.T) {
	// Two subgroup members with survey weights 1 and 3: the household
	// outcome is the weighted mean.
	names := []string{"hhid", "year", "income", "weight", "age",
		"female", "childofhead", "head", "attend"}
	ds := makeTable(names,
		[]float64{1, 1, 1},
		[]float64{2018, 2018, 2018},
		[]float64{800, 800, 800},
		[]float64{2, 1, 3},
		[]float64{30, 8, 10},
		[]float64{1, 0, 1},
		[]float64{0, 1, 1},
		[]float64{1, 0, 0},
		[]float64{math.NaN(), 0, 1},
	)

	sub, err := BuildHouseholds(ds, DefaultColumns(), Subgroups()[0], "attend", RunningConfig{Threshold: 1000}, 2018)
	require.NoError(t, err)
	require.Len(t, sub.Y, 1)
	assert.InDelta(t, 0.75, sub.Y[0], 1e-12)
}

func TestRestrictControls(t *testing.T) {
	sub := &SubgroupData{
		Controls: [][]float64{
			{3, 2},   // size
			{1, 0},   // urban
			{0.5, 1}, // prop male
		},
		Education: []float64{8, 11},
	}

	cols := DefaultColumns()
	sub.RestrictControls(cols, []string{cols.HouseholdSize, cols.Female})

	require.Len(t, sub.Controls, 2)
	assert.Equal(t, []float64{3, 2}, sub.Controls[0])
	assert.Equal(t, []float64{0.5, 1}, sub.Controls[1])
	assert.Nil(t, sub.Education)
}

func TestBuildHouseholdsDelta(t *testing.T) {
	// One panel household observed in both periods.
	ds := makeTable(obsNames(),
		[]float64{1, 1, 1, 1, 2, 2},
		[]float64{2018, 2018, 2019, 2019, 2018, 2018},
		[]float64{900, 900, 1000, 1000, 700, 700},
		[]float64{5, 5, 5, 5, 6, 6},
		[]float64{35, 8, 36, 9, 40, 10},
		[]float64{1, 0, 1, 0, 1, 0},
		[]float64{0, 1, 0, 1, 0, 1},
		[]float64{1, 1, 1, 1, 0, 0},
		[]float64{2, 2, 2, 2, 2, 2},
		[]float64{8, math.NaN(), 8, math.NaN(), 4, math.NaN()},
		[]float64{1, 0, 1, 0, 1, 0},
		[]float64{math.NaN(), 0, math.NaN(), 1, math.NaN(), 1},
		[]float64{1, 1, 1, 1, 0, 0}, // hh2 not in the panel
	)

	rc := RunningConfig{Threshold: 1000, ThresholdFollowup: 1100, EligibleAbove: true}
	sub, err := BuildHouseholdsDelta(ds, DefaultColumns(), Subgroups()[0], "attend", rc, 2018, 2019)
	require.NoError(t, err)

	require.Len(t, sub.Running, 1, "only the panel household enters")
	// (1000-1100) - (900-1000) = 0
	assert.InDelta(t, 0.0, sub.Running[0], 1e-12)
	// attendance went from 0 to 1
	assert.InDelta(t, 1.0, sub.Y[0], 1e-12)
}

func TestBuildHouseholdsDeltaRequiresPanelColumns(t *testing.T) {
	cols := DefaultColumns()
	cols.PanelFlag = ""
	_, err := BuildHouseholdsDelta(nil, cols, Subgroups()[0], "attend", RunningConfig{}, 2018, 2019)
	require.ErrorIs(t, err, ErrConfig)
}

func TestBuildHouseholdsMissingColumn(t *testing.T) {
	ds := makeTable([]string{"hhid"}, []float64{1, 2})
	_, err := BuildHouseholds(ds, DefaultColumns(), Subgroups()[0], "attend", RunningConfig{}, math.NaN())
	require.ErrorIs(t, err, ErrConfig)
}

func TestValidateCovariates(t *testing.T) {
	nan := math.NaN()
	ds := makeTable([]string{"good", "constant", "holey"},
		[]float64{1, 2, 3, 4, 5, 6},
		[]float64{7, 7, 7, 7, 7, 7},
		[]float64{1, nan, nan, nan, 2, 3},
	)

	usable := ValidateCovariates(ds, []string{"good", "constant", "holey", "absent"}, 0.10)
	assert.Equal(t, []string{"good"}, usable)
}
