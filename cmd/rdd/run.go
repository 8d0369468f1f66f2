package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brookluers/rdd"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full specification batch over all subgroups and outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := LoadConfig(path)
			if err != nil {
				return err
			}
			return runBatch(cfg)
		},
	}
}

func runBatch(cfg *Config) error {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ds, err := loadTable(cfg.Input)
	if err != nil {
		return err
	}
	cols := cfg.columns()
	rc := cfg.running()

	usable := rdd.ValidateCovariates(ds, []string{
		cols.HouseholdSize, cols.Urban, cols.Female, cols.HeadEducation,
	}, cfg.MaxCovariateMissing)
	log.Info("validated control columns", zap.Strings("usable", usable))

	baseYear := math.NaN()
	if cfg.BaseYear != 0 {
		baseYear = cfg.BaseYear
	}

	out, err := os.Create(cfg.Output)
	if err != nil {
		return err
	}
	defer out.Close()
	w := csv.NewWriter(out)
	defer w.Flush()

	header := []string{
		"subgroup", "outcome", "order", "spec", "status",
		"n", "n_left", "n_right", "n_eff_left", "n_eff_right",
		"cutoff", "h_left", "h_right", "b_left", "b_right",
		"conventional", "se_conventional", "p_conventional", "stars",
		"bias_corrected", "se_robust", "p_robust", "stars_robust",
		"mean_below_h", "mean_above_h", "mean_below_b", "mean_above_b",
		"cluster_fallback",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	total := rdd.Summary{FailReasons: make(map[string]int)}
	for _, outcome := range cfg.Outcomes {
		for _, order := range cfg.Orders {
			runner := rdd.NewRunner(rdd.RunnerConfig{
				Order:                order,
				Cutoff:               0,
				DiDC:                 cfg.DiDC,
				EligibleAbove:        cfg.EligibleAbove,
				MinSample:            cfg.MinSample,
				CountEmptyTowardGate: cfg.CountEmptyTowardGate,
			}, log)

			var subs []*rdd.SubgroupData
			for _, sg := range rdd.Subgroups() {
				var sub *rdd.SubgroupData
				var err error
				if cfg.DiDC {
					sub, err = rdd.BuildHouseholdsDelta(ds, cols, sg, outcome, rc, cfg.BaseYear, cfg.FollowupYear)
				} else {
					sub, err = rdd.BuildHouseholds(ds, cols, sg, outcome, rc, baseYear)
				}
				if err != nil {
					return err
				}
				sub.RestrictControls(cols, usable)
				subs = append(subs, sub)
			}

			br := runner.RunBatch(subs)
			total.CellsAttempted += br.Summary.CellsAttempted
			total.CellsFailed += br.Summary.CellsFailed
			total.SubgroupsSkipped += br.Summary.SubgroupsSkipped
			for k, v := range br.Summary.FailReasons {
				total.FailReasons[k] += v
			}

			for _, sr := range br.Results {
				if err := writeSubgroup(w, sr); err != nil {
					return err
				}
			}
		}
	}

	log.Info("run complete",
		zap.Int("cells", total.CellsAttempted),
		zap.Int("failed", total.CellsFailed),
		zap.Int("subgroups_skipped", total.SubgroupsSkipped),
		zap.Any("fail_reasons", total.FailReasons),
		zap.String("output", cfg.Output))

	fmt.Printf("cells attempted: %d, failed: %d, subgroups skipped: %d\n",
		total.CellsAttempted, total.CellsFailed, total.SubgroupsSkipped)
	for k, v := range total.FailReasons {
		fmt.Printf("  %s: %d\n", k, v)
	}

	return nil
}

func writeSubgroup(w *csv.Writer, sr *rdd.SubgroupResult) error {
	if sr.Skipped {
		row := make([]string, 28)
		row[0] = sr.Subgroup
		row[1] = sr.Outcome
		row[2] = strconv.Itoa(sr.Order)
		row[4] = "skipped_small_sample"
		row[5] = strconv.Itoa(sr.NonMissing)
		return w.Write(row)
	}
	for _, c := range sr.Cells {
		status := "ok"
		if c.Err != nil {
			status = "failed: " + c.Err.Error()
		}
		r := c.Result
		row := []string{
			sr.Subgroup, sr.Outcome, strconv.Itoa(sr.Order), c.Spec.Name, status,
			strconv.Itoa(r.N), strconv.Itoa(r.NLeft), strconv.Itoa(r.NRight),
			strconv.Itoa(r.NEffLeft), strconv.Itoa(r.NEffRight),
			ff(r.Cutoff), ff(r.H.Left), ff(r.H.Right), ff(r.B.Left), ff(r.B.Right),
			ff(r.Conventional), ff(r.SEConventional), ff(r.PValue), r.Stars,
			ff(r.BiasCorrected), ff(r.SERobust), ff(r.PValueRobust), r.StarsRobust,
			ff(r.MeanBelowH), ff(r.MeanAboveH), ff(r.MeanBelowB), ff(r.MeanAboveB),
			strconv.FormatBool(r.ClusterFallback),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// ff formats a float for the CSV, leaving NaN cells empty.
func ff(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', 8, 64)
}
