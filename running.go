package rdd

import "math"

// The running variable is the signed distance between a unit's income
// and the period-specific eligibility threshold.  Units below the
// cutoff are eligible for the transfer under the cross-sectional
// convention; the differenced (DiDC) design flips the convention, so
// the treated side is controlled by a flag rather than hard-coded.

// RunningConfig fixes the construction of the running variable.
type RunningConfig struct {
	// Threshold is the eligibility threshold for the period being
	// analyzed (for DiDC, the base period).
	Threshold float64

	// ThresholdFollowup is the threshold for the follow-up period.
	// Only used in DiDC mode.
	ThresholdFollowup float64

	// EligibleAbove selects which side of the cutoff is treated.
	// False (the default) means units with running < 0 are eligible.
	EligibleAbove bool
}

// CenterIncome returns income - threshold for one unit.  Missing income
// (NaN) yields ErrMissingInput; callers drop such units.
func (rc RunningConfig) CenterIncome(income float64) (float64, error) {
	if math.IsNaN(income) {
		return math.NaN(), ErrMissingInput
	}
	return income - rc.Threshold, nil
}

// Eligible reports whether a unit with the given running-variable value
// is on the treated side of the cutoff.
func (rc RunningConfig) Eligible(running float64) bool {
	if rc.EligibleAbove {
		return running >= 0
	}
	return running < 0
}

// BuildRunning centers a vector of incomes, dropping units with missing
// income.  It returns the running-variable values and the index of each
// retained unit in the input, plus the number dropped.
func (rc RunningConfig) BuildRunning(income []float64) (running []float64, keep []int, dropped int) {
	for i, v := range income {
		r, err := rc.CenterIncome(v)
		if err != nil {
			dropped++
			continue
		}
		running = append(running, r)
		keep = append(keep, i)
	}
	return running, keep, dropped
}

// DeltaRunning is the differenced running variable of the DiDC design.
// Both period-specific components are retained so they can be recovered
// exactly from the constructed value.
type DeltaRunning struct {
	// Base and Followup are the period-specific centered running
	// variables, aligned by unit.
	Base     []float64
	Followup []float64
}

// BuildDelta constructs the DiDC running variable from paired incomes.
// A unit missing income in either period is dropped.  The cutoff of the
// differenced design is fixed at zero.
func (rc RunningConfig) BuildDelta(incomeBase, incomeFollowup []float64) (*DeltaRunning, []int, int) {
	if len(incomeBase) != len(incomeFollowup) {
		return nil, nil, 0
	}

	d := &DeltaRunning{}
	var keep []int
	dropped := 0
	for i := range incomeBase {
		if math.IsNaN(incomeBase[i]) || math.IsNaN(incomeFollowup[i]) {
			dropped++
			continue
		}
		d.Base = append(d.Base, incomeBase[i]-rc.Threshold)
		d.Followup = append(d.Followup, incomeFollowup[i]-rc.ThresholdFollowup)
		keep = append(keep, i)
	}
	return d, keep, dropped
}

// Values returns the differenced running variable, followup minus base.
func (d *DeltaRunning) Values() []float64 {
	v := make([]float64, len(d.Base))
	for i := range v {
		v[i] = d.Followup[i] - d.Base[i]
	}
	return v
}

// Components returns the period-specific running variables for unit i,
// recovering exactly the values the delta was built from.
func (d *DeltaRunning) Components(i int) (base, followup float64) {
	return d.Base[i], d.Followup[i]
}

// Len returns the number of retained units.
func (d *DeltaRunning) Len() int { return len(d.Base) }
