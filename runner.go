package rdd

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"
)

// RunnerConfig fixes one batch of specification runs.  It is immutable
// once the runner is constructed; there is no process-wide state.
type RunnerConfig struct {
	// Order is the local polynomial order p.
	Order int

	// Cutoff is the threshold in the running variable (zero for the
	// DiDC design).
	Cutoff float64

	// DiDC selects the differenced design: five specifications instead
	// of ten, and the flipped eligibility convention.
	DiDC bool

	// EligibleAbove selects the treated side; see RunningConfig.
	EligibleAbove bool

	// MinSample is the subgroup sample-size gate: subgroups with fewer
	// non-missing households are skipped (reported, not failed).
	// Zero means the default of 50.
	MinSample int

	// CountEmptyTowardGate counts households with a missing subgroup
	// outcome toward the gate instead of only usable households.
	CountEmptyTowardGate bool
}

// EstimationResult is the full record for one (subgroup, outcome,
// order, specification) cell.
type EstimationResult struct {
	Spec  Specification
	Order int

	// Sample sizes: all households, per side, and per side within the
	// conventional bandwidth.
	N, NLeft, NRight    int
	NEffLeft, NEffRight int

	Cutoff float64

	// Bandwidths: conventional and bias-correction, per side.
	H, B BandwidthPair

	// Point estimates and standard errors.
	Conventional    float64
	BiasCorrected   float64
	SEConventional  float64
	SERobust        float64
	PValue          float64
	PValueRobust    float64
	Stars           string
	StarsRobust     string
	ClusterFallback bool

	// Conditional outcome means at each side of the cutoff, within the
	// conventional (H) and bias-correction (B) windows.
	MeanBelowH, MeanAboveH float64
	MeanBelowB, MeanAboveB float64
}

// Cell is the outcome of one specification: a result, or the error that
// made the cell unavailable.
type Cell struct {
	Spec   Specification
	Result *EstimationResult
	Err    error
}

// SubgroupResult collects all specification cells for one subgroup.
type SubgroupResult struct {
	Subgroup string
	Outcome  string
	Order    int

	// Skipped is set when the subgroup fell below the sample-size
	// gate; NonMissing is the gated count.
	Skipped    bool
	NonMissing int

	Cells []Cell

	// Err is set only for configuration errors, which abort the whole
	// subgroup.
	Err error
}

// Summary tallies a batch run for the user-visible report.
type Summary struct {
	CellsAttempted   int
	CellsFailed      int
	SubgroupsSkipped int
	FailReasons      map[string]int
}

// BatchResult is the output of RunBatch.
type BatchResult struct {
	Results []*SubgroupResult
	Summary Summary
}

// Runner drives the cross-product of specifications for each subgroup.
// Each cell is a pure function of its inputs, so subgroup iteration can
// be parallelized by callers without synchronization.
type Runner struct {
	cfg RunnerConfig
	log *zap.Logger
}

// NewRunner returns a runner for the given configuration.  A nil
// logger disables logging.
func NewRunner(cfg RunnerConfig, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MinSample == 0 {
		cfg.MinSample = 50
	}
	return &Runner{cfg: cfg, log: log}
}

// normalPValue is the two-sided p-value of estimate/se under the
// normal approximation.
func normalPValue(estimate, se float64) float64 {
	if se <= 0 || math.IsNaN(se) {
		return math.NaN()
	}
	t := math.Abs(estimate / se)
	return 2 * (1 - distuv.UnitNormal.CDF(t))
}

// covariates assembles the control columns for a specification.
func (r *Runner) covariates(sub *SubgroupData, spec Specification) [][]float64 {
	if !spec.Controls {
		return nil
	}
	cov := make([][]float64, 0, len(sub.Controls)+1)
	cov = append(cov, sub.Controls...)
	// Education may have been dropped by covariate validation; the cell
	// then runs with the remaining controls.
	if spec.Education && sub.Education != nil {
		cov = append(cov, sub.Education)
	}
	return cov
}

// runCell evaluates one specification.
func (r *Runner) runCell(sub *SubgroupData, spec Specification) (*EstimationResult, error) {
	if spec.Cluster && sub.Region == nil {
		return nil, cellError(ErrConfig, "clustering requested but subgroup %s has no region ids", sub.Subgroup.Name)
	}

	sel := &Selector{Order: r.cfg.Order, Cutoff: r.cfg.Cutoff}
	bw, err := sel.Select(sub.Running, sub.Y, spec.Bandwidth)
	if err != nil {
		return nil, err
	}

	est := NewEstimator(EstimateConfig{
		Order:         r.cfg.Order,
		Cutoff:        r.cfg.Cutoff,
		EligibleAbove: r.cfg.EligibleAbove,
	})
	fit, err := est.Estimate(sub.Running, sub.Y, r.covariates(sub, spec), bw)
	if err != nil {
		return nil, err
	}

	ve := &VarianceEstimator{}
	if spec.Cluster {
		ve.Cluster = sub.Region
	}
	v, err := ve.Compute(fit, sub.Running, r.cfg.Cutoff)
	if err != nil {
		return nil, err
	}

	res := &EstimationResult{
		Spec:            spec,
		Order:           r.cfg.Order,
		N:               len(sub.Running),
		NLeft:           fit.NLeft,
		NRight:          fit.NRight,
		NEffLeft:        fit.NEffLeft,
		NEffRight:       fit.NEffRight,
		Cutoff:          r.cfg.Cutoff,
		H:               bw.H,
		B:               bw.B,
		Conventional:    fit.Conventional,
		BiasCorrected:   fit.BiasCorrected,
		SEConventional:  v.Conventional,
		SERobust:        v.Robust,
		ClusterFallback: v.ClusterFallback,
		MeanBelowH:      fit.MeanBelowH,
		MeanAboveH:      fit.MeanAboveH,
		MeanBelowB:      fit.MeanBelowB,
		MeanAboveB:      fit.MeanAboveB,
	}
	res.PValue = normalPValue(res.Conventional, res.SEConventional)
	res.PValueRobust = normalPValue(res.BiasCorrected, res.SERobust)
	res.Stars = Stars(res.PValue)
	res.StarsRobust = Stars(res.PValueRobust)

	return res, nil
}

// naResult is the all-missing row recorded for a failed cell.
func naResult(spec Specification, order int, cutoff float64, n int) *EstimationResult {
	nan := math.NaN()
	return &EstimationResult{
		Spec:           spec,
		Order:          order,
		N:              n,
		Cutoff:         cutoff,
		Conventional:   nan,
		BiasCorrected:  nan,
		SEConventional: nan,
		SERobust:       nan,
		PValue:         nan,
		PValueRobust:   nan,
		MeanBelowH:     nan,
		MeanAboveH:     nan,
		MeanBelowB:     nan,
		MeanAboveB:     nan,
	}
}

// Run evaluates every canonical specification for one subgroup.
// Recoverable per-cell failures are converted to all-missing rows; a
// configuration error aborts the subgroup.
func (r *Runner) Run(sub *SubgroupData) *SubgroupResult {
	sr := &SubgroupResult{
		Subgroup: sub.Subgroup.Name,
		Outcome:  sub.Outcome,
		Order:    r.cfg.Order,
	}

	sr.NonMissing = len(sub.Running)
	if r.cfg.CountEmptyTowardGate {
		sr.NonMissing = sub.TotalHouseholds
	}
	if sr.NonMissing < r.cfg.MinSample {
		sr.Skipped = true
		r.log.Info("subgroup below sample-size gate, skipped",
			zap.String("subgroup", sub.Subgroup.Name),
			zap.String("outcome", sub.Outcome),
			zap.Int("nonmissing", sr.NonMissing),
			zap.Int("minsample", r.cfg.MinSample))
		return sr
	}

	for _, spec := range CanonicalSpecifications(r.cfg.DiDC) {
		res, err := r.runCell(sub, spec)
		if err != nil {
			if errorReason(err) == "config" {
				sr.Err = err
				r.log.Error("configuration error, subgroup aborted",
					zap.String("subgroup", sub.Subgroup.Name),
					zap.Error(err))
				return sr
			}
			r.log.Warn("cell failed",
				zap.String("subgroup", sub.Subgroup.Name),
				zap.String("outcome", sub.Outcome),
				zap.String("spec", spec.Name),
				zap.Error(err))
			sr.Cells = append(sr.Cells, Cell{
				Spec:   spec,
				Result: naResult(spec, r.cfg.Order, r.cfg.Cutoff, len(sub.Running)),
				Err:    err,
			})
			continue
		}
		sr.Cells = append(sr.Cells, Cell{Spec: spec, Result: res})
	}

	return sr
}

// RunBatch runs every subgroup and tallies the summary.
func (r *Runner) RunBatch(subs []*SubgroupData) *BatchResult {
	br := &BatchResult{
		Summary: Summary{FailReasons: make(map[string]int)},
	}

	for _, sub := range subs {
		sr := r.Run(sub)
		br.Results = append(br.Results, sr)
		if sr.Skipped {
			br.Summary.SubgroupsSkipped++
			continue
		}
		for _, c := range sr.Cells {
			br.Summary.CellsAttempted++
			if c.Err != nil {
				br.Summary.CellsFailed++
				br.Summary.FailReasons[errorReason(c.Err)]++
			}
		}
		if sr.Err != nil {
			br.Summary.FailReasons[errorReason(sr.Err)]++
		}
	}

	r.log.Info("batch complete",
		zap.Int("cells", br.Summary.CellsAttempted),
		zap.Int("failed", br.Summary.CellsFailed),
		zap.Int("subgroups_skipped", br.Summary.SubgroupsSkipped))

	return br
}
