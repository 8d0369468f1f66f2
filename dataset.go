package rdd

import (
	"math"
	"sort"

	"github.com/kshedden/dstream/dstream"
)

// Columns names the variables of the observation table handed over by
// the ingestion layer.  All columns are float64; missing values are
// NaN.
type Columns struct {
	Household string
	Year      string
	Income    string
	Region    string

	// Weight is the survey weight applied when member outcomes are
	// averaged into the household outcome.  Missing or absent weights
	// count as one.
	Weight string

	Age           string
	Female        string
	ChildOfHead   string
	Urban         string
	HouseholdSize string
	HeadEducation string
	Head          string

	// PanelFlag marks individuals matched across both periods; only
	// used in DiDC mode.
	PanelFlag string
}

// DefaultColumns returns the column names of the standard survey
// extract.
func DefaultColumns() Columns {
	return Columns{
		Household:     "hhid",
		Year:          "year",
		Income:        "income",
		Region:        "region",
		Weight:        "weight",
		Age:           "age",
		Female:        "female",
		ChildOfHead:   "childofhead",
		Urban:         "urban",
		HouseholdSize: "hhsize",
		HeadEducation: "headeduc",
		Head:          "head",
		PanelFlag:     "inpanel",
	}
}

// SubgroupData is the household-level analysis input for one subgroup
// and outcome: aligned vectors with missing units already dropped, plus
// the counts the runner's sample-size gate needs.
type SubgroupData struct {
	Subgroup Subgroup
	Outcome  string

	Running []float64
	Y       []float64

	// Controls holds the household control columns (size, urban,
	// proportion male), aligned with Running.
	Controls [][]float64

	// Education is the household-head education control.
	Education []float64

	// Region holds cluster ids, or nil when the region column is
	// absent.
	Region []int

	// TotalHouseholds counts households before dropping those with a
	// missing (no subgroup member) outcome; DroppedMissing counts the
	// drops.
	TotalHouseholds int
	DroppedMissing  int
}

// hhAcc accumulates one household while streaming observations.
type hhAcc struct {
	income    float64
	hasIncome bool

	incomeF    float64 // follow-up period income (DiDC)
	hasIncomeF bool

	region    float64
	hasRegion bool

	size     float64
	urban    float64
	headEduc float64

	nMembers int
	nMale    int

	ySum float64 // weighted outcome sum over subgroup members
	yWt  float64
	yN   int

	ySumF float64 // follow-up period outcome (DiDC)
	yWtF  float64
	yNF   int
}

// getcol fetches a float64 column from the current dstream chunk, or
// nil when the name is empty or absent.
func getcol(ds dstream.Dstream, name string) []float64 {
	if name == "" {
		return nil
	}
	if _, ok := dstream.VarPos(ds)[name]; !ok {
		return nil
	}
	f, _ := ds.Get(name).([]float64)
	return f
}

func at(col []float64, i int) float64 {
	if col == nil {
		return math.NaN()
	}
	return col[i]
}

// accumulate streams the observation table once, folding members into
// household accumulators.  followupYear is NaN for cross-sectional
// builds, which keep only rows from baseYear (all rows when baseYear is
// NaN or the year column is absent).
func accumulate(ds dstream.Dstream, cols Columns, sg Subgroup, outcome string, panelOnly bool, baseYear, followupYear float64) (map[float64]*hhAcc, error) {
	acc := make(map[float64]*hhAcc)

	ds.Reset()
	for ds.Next() {
		hh := getcol(ds, cols.Household)
		if hh == nil {
			return nil, cellError(ErrConfig, "household column %q not found", cols.Household)
		}
		income := getcol(ds, cols.Income)
		if income == nil {
			return nil, cellError(ErrConfig, "income column %q not found", cols.Income)
		}
		y := getcol(ds, outcome)
		if y == nil {
			return nil, cellError(ErrConfig, "outcome column %q not found", outcome)
		}
		year := getcol(ds, cols.Year)
		weight := getcol(ds, cols.Weight)
		region := getcol(ds, cols.Region)
		age := getcol(ds, cols.Age)
		female := getcol(ds, cols.Female)
		child := getcol(ds, cols.ChildOfHead)
		urban := getcol(ds, cols.Urban)
		size := getcol(ds, cols.HouseholdSize)
		educ := getcol(ds, cols.HeadEducation)
		head := getcol(ds, cols.Head)
		panel := getcol(ds, cols.PanelFlag)

		for i := range hh {
			if panelOnly && at(panel, i) != 1 {
				continue
			}
			followup := false
			if !math.IsNaN(followupYear) {
				switch at(year, i) {
				case followupYear:
					followup = true
				case baseYear:
				default:
					continue
				}
			} else if !math.IsNaN(baseYear) && year != nil && year[i] != baseYear {
				// Repeated cross-sections: a household id can recur in
				// later periods and must not fold into this build.
				continue
			}

			a := acc[hh[i]]
			if a == nil {
				a = &hhAcc{}
				acc[hh[i]] = a
			}

			if followup {
				if !a.hasIncomeF && !math.IsNaN(income[i]) {
					a.incomeF = income[i]
					a.hasIncomeF = true
				}
			} else {
				if !a.hasIncome && !math.IsNaN(income[i]) {
					a.income = income[i]
					a.hasIncome = true
				}
				if !a.hasRegion && region != nil && !math.IsNaN(region[i]) {
					a.region = region[i]
					a.hasRegion = true
				}
				a.nMembers++
				if at(female, i) == 0 {
					a.nMale++
				}
				if urban != nil && !math.IsNaN(urban[i]) {
					a.urban = urban[i]
				}
				if size != nil && !math.IsNaN(size[i]) {
					a.size = size[i]
				}
				if head != nil && at(head, i) == 1 && educ != nil && !math.IsNaN(educ[i]) {
					a.headEduc = educ[i]
				}
			}

			if sg.Matches(at(age, i), at(female, i), at(child, i)) && !math.IsNaN(y[i]) {
				w := at(weight, i)
				if math.IsNaN(w) || w <= 0 {
					w = 1
				}
				if followup {
					a.ySumF += w * y[i]
					a.yWtF += w
					a.yNF++
				} else {
					a.ySum += w * y[i]
					a.yWt += w
					a.yN++
				}
			}
		}
	}

	return acc, nil
}

// sortedKeys returns household ids in a fixed order so repeated builds
// are identical.
func sortedKeys(acc map[float64]*hhAcc) []float64 {
	keys := make([]float64, 0, len(acc))
	for k := range acc {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return keys
}

// BuildHouseholds aggregates the observation table into one row per
// household for the given subgroup and outcome, constructing the static
// running variable.  baseYear restricts the build to one survey period
// (NaN keeps every row, for single-period extracts).  Households with
// missing income are dropped per the running-variable contract;
// households with no subgroup member carry a missing outcome and are
// dropped with DroppedMissing incremented.
func BuildHouseholds(ds dstream.Dstream, cols Columns, sg Subgroup, outcome string, rc RunningConfig, baseYear float64) (*SubgroupData, error) {
	acc, err := accumulate(ds, cols, sg, outcome, false, baseYear, math.NaN())
	if err != nil {
		return nil, err
	}

	sd := &SubgroupData{
		Subgroup: sg,
		Outcome:  outcome,
		Controls: make([][]float64, 3),
	}
	hasRegion := false
	for _, a := range acc {
		if a.hasRegion {
			hasRegion = true
			break
		}
	}

	for _, k := range sortedKeys(acc) {
		a := acc[k]
		if !a.hasIncome {
			continue // ErrMissingInput case: unit excluded, not imputed
		}
		sd.TotalHouseholds++
		if a.yN == 0 {
			sd.DroppedMissing++
			continue
		}

		r, err := rc.CenterIncome(a.income)
		if err != nil {
			continue
		}
		sd.Running = append(sd.Running, r)
		sd.Y = append(sd.Y, a.ySum/a.yWt)

		size := a.size
		if size == 0 {
			size = float64(a.nMembers)
		}
		propMale := 0.0
		if a.nMembers > 0 {
			propMale = float64(a.nMale) / float64(a.nMembers)
		}
		sd.Controls[0] = append(sd.Controls[0], size)
		sd.Controls[1] = append(sd.Controls[1], a.urban)
		sd.Controls[2] = append(sd.Controls[2], propMale)
		sd.Education = append(sd.Education, a.headEduc)
		if hasRegion {
			sd.Region = append(sd.Region, int(a.region))
		}
	}

	return sd, nil
}

// BuildHouseholdsDelta aggregates the panel subsample into the
// difference-in-discontinuities design: differenced running variable
// and differenced subgroup outcome between the base and follow-up
// periods.  Controls come from the base period.
func BuildHouseholdsDelta(ds dstream.Dstream, cols Columns, sg Subgroup, outcome string, rc RunningConfig, baseYear, followupYear float64) (*SubgroupData, error) {
	if cols.PanelFlag == "" || cols.Year == "" {
		return nil, cellError(ErrConfig, "DiDC build requires panel-flag and year columns")
	}
	acc, err := accumulate(ds, cols, sg, outcome, true, baseYear, followupYear)
	if err != nil {
		return nil, err
	}

	sd := &SubgroupData{
		Subgroup: sg,
		Outcome:  outcome,
		Controls: make([][]float64, 3),
	}
	hasRegion := false
	for _, a := range acc {
		if a.hasRegion {
			hasRegion = true
			break
		}
	}

	for _, k := range sortedKeys(acc) {
		a := acc[k]
		if !a.hasIncome || !a.hasIncomeF {
			continue
		}
		sd.TotalHouseholds++
		if a.yN == 0 || a.yNF == 0 {
			sd.DroppedMissing++
			continue
		}

		// Delta running: follow-up gap minus base gap, cutoff at zero.
		sd.Running = append(sd.Running, (a.incomeF-rc.ThresholdFollowup)-(a.income-rc.Threshold))
		sd.Y = append(sd.Y, a.ySumF/a.yWtF-a.ySum/a.yWt)

		size := a.size
		if size == 0 {
			size = float64(a.nMembers)
		}
		propMale := 0.0
		if a.nMembers > 0 {
			propMale = float64(a.nMale) / float64(a.nMembers)
		}
		sd.Controls[0] = append(sd.Controls[0], size)
		sd.Controls[1] = append(sd.Controls[1], a.urban)
		sd.Controls[2] = append(sd.Controls[2], propMale)
		sd.Education = append(sd.Education, a.headEduc)
		if hasRegion {
			sd.Region = append(sd.Region, int(a.region))
		}
	}

	return sd, nil
}

// RestrictControls drops control columns whose source variable failed
// covariate validation.  usable holds the validated observation-column
// names; the household size, urban, proportion-male, and head-education
// controls derive from the size, urban, female, and head-education
// columns respectively.
func (sd *SubgroupData) RestrictControls(cols Columns, usable []string) {
	ok := make(map[string]bool, len(usable))
	for _, na := range usable {
		ok[na] = true
	}

	var kept [][]float64
	if ok[cols.HouseholdSize] {
		kept = append(kept, sd.Controls[0])
	}
	if ok[cols.Urban] {
		kept = append(kept, sd.Controls[1])
	}
	if ok[cols.Female] {
		kept = append(kept, sd.Controls[2])
	}
	sd.Controls = kept

	if !ok[cols.HeadEducation] {
		sd.Education = nil
	}
}

// ValidateCovariates makes one pass over the table and returns the
// covariate names usable as controls: present, not constant, and with
// missing rate at most maxMissing.  This replaces ad hoc probing at fit
// time with a typed, once-per-dataset decision.
func ValidateCovariates(ds dstream.Dstream, names []string, maxMissing float64) []string {
	type colstat struct {
		n, miss    int
		sum, sumsq float64
		present    bool
	}
	stats := make(map[string]*colstat)
	for _, na := range names {
		stats[na] = &colstat{}
	}

	ds.Reset()
	for ds.Next() {
		for _, na := range names {
			col := getcol(ds, na)
			if col == nil {
				continue
			}
			st := stats[na]
			st.present = true
			for _, v := range col {
				st.n++
				if math.IsNaN(v) {
					st.miss++
					continue
				}
				st.sum += v
				st.sumsq += v * v
			}
		}
	}

	var usable []string
	for _, na := range names {
		st := stats[na]
		if !st.present || st.n == 0 {
			continue
		}
		if float64(st.miss)/float64(st.n) > maxMissing {
			continue
		}
		nv := float64(st.n - st.miss)
		if nv < 2 {
			continue
		}
		mean := st.sum / nv
		if st.sumsq/nv-mean*mean <= 1e-12 {
			continue
		}
		usable = append(usable, na)
	}
	return usable
}
