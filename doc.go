package rdd

/*

Package rdd estimates regression-discontinuity (RD) and
difference-in-discontinuities treatment effects of an income-eligibility
cutoff on household-level outcomes, across demographic subgroups of a
repeated cross-sectional survey.

The package fits weighted local polynomial regressions on each side of a
cutoff in a running variable (income minus an eligibility threshold),
with data-driven bandwidth selection, bias-corrected point estimates,
and heteroskedasticity- or cluster-robust standard errors.  A batch
runner evaluates a fixed set of model specifications (controls,
clustering, education control, bandwidth method) for every subgroup and
outcome, tolerating per-cell failures.  A density-discontinuity test for
manipulation of the running variable is also provided.

Input data arrive as an in-memory columnar table (a dstream), one row
per survey respondent-period.  The aggregation layer reduces this to one
row per household before estimation.  All estimators are deterministic:
repeated runs on identical inputs produce identical results.

*/
