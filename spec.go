package rdd

// Specification is one model-specification column of the results table:
// a combination of controls, clustering, the education control, and the
// bandwidth method.  The canonical set is enumerated explicitly rather
// than dispatched by position.
type Specification struct {
	// Name is the machine-safe column key.
	Name string

	// Label is the display header used by the reporting layer.
	Label string

	// Controls includes the household controls (size, urban indicator,
	// proportion male).
	Controls bool

	// Cluster requests cluster-robust standard errors by region.
	Cluster bool

	// Education adds the household-head education control.  Only
	// meaningful together with Controls.
	Education bool

	// Bandwidth selects the bandwidth rule.
	Bandwidth Method
}

// baseSpecifications are the five specification columns under a single
// bandwidth method.
func baseSpecifications(m Method) []Specification {
	suffix := ""
	if m == MSETwo {
		suffix = "_msetwo"
	}
	lsuffix := ""
	if m == MSETwo {
		lsuffix = " (msetwo)"
	}
	return []Specification{
		{Name: "nocontrols" + suffix, Label: "No Controls" + lsuffix, Bandwidth: m},
		{Name: "controls" + suffix, Label: "With Controls" + lsuffix, Controls: true, Bandwidth: m},
		{Name: "cluster_nocontrols" + suffix, Label: "Cluster No Controls" + lsuffix, Cluster: true, Bandwidth: m},
		{Name: "cluster_controls" + suffix, Label: "Cluster With Controls" + lsuffix, Controls: true, Cluster: true, Bandwidth: m},
		{Name: "cluster_controls_educ" + suffix, Label: "Cluster With Controls + Education" + lsuffix,
			Controls: true, Cluster: true, Education: true, Bandwidth: m},
	}
}

// CanonicalSpecifications enumerates the specification columns: ten for
// the cross-sectional design (five per bandwidth method), five for the
// differenced (DiDC) design, which uses only the common-bandwidth rule.
func CanonicalSpecifications(didc bool) []Specification {
	specs := baseSpecifications(MSERD)
	if didc {
		return specs
	}
	return append(specs, baseSpecifications(MSETwo)...)
}

// Stars returns the significance marker for a two-sided p-value:
// *** below 0.01, ** below 0.05, * below 0.10.
func Stars(p float64) string {
	switch {
	case p < 0.01:
		return "***"
	case p < 0.05:
		return "**"
	case p < 0.10:
		return "*"
	default:
		return ""
	}
}
