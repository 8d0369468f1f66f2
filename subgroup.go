package rdd

import "fmt"

// Sex restricts a subgroup by the respondent's sex.
type Sex int

const (
	AnySex Sex = iota
	Male
	Female
)

// Subgroup is a predicate over observation demographics: an age band
// crossed with sex, restricted to children of the household head.  The
// canonical nine subgroups are statically enumerated and immutable.
type Subgroup struct {
	// Name is the machine-safe key used in result records.
	Name string

	// Label is the display name used by the reporting layer.
	Label string

	AgeMin, AgeMax float64
	Sex            Sex

	// ChildOfHead restricts to members whose relationship-to-head flag
	// marks them as children of the head.
	ChildOfHead bool
}

// Matches reports whether an observation with the given demographics
// belongs to the subgroup.  female and childOfHead are survey indicator
// values (1 = yes).
func (sg Subgroup) Matches(age, female, childOfHead float64) bool {
	if age < sg.AgeMin || age > sg.AgeMax {
		return false
	}
	switch sg.Sex {
	case Male:
		if female == 1 {
			return false
		}
	case Female:
		if female != 1 {
			return false
		}
	}
	if sg.ChildOfHead && childOfHead != 1 {
		return false
	}
	return true
}

// Subgroups enumerates the nine canonical subgroups: children of the
// head in primary-school age (6-11), secondary-school age (12-17), and
// the pooled band (6-17), each split by sex and pooled.
func Subgroups() []Subgroup {
	bands := []struct {
		lo, hi float64
		tag    string
	}{
		{6, 11, "6_11"},
		{12, 17, "12_17"},
		{6, 17, "6_17"},
	}
	sexes := []struct {
		s     Sex
		tag   string
		label string
	}{
		{AnySex, "all", "All"},
		{Male, "boys", "Boys"},
		{Female, "girls", "Girls"},
	}

	var out []Subgroup
	for _, b := range bands {
		for _, sx := range sexes {
			out = append(out, Subgroup{
				Name:        fmt.Sprintf("%s_%s", sx.tag, b.tag),
				Label:       fmt.Sprintf("%s %.0f-%.0f", sx.label, b.lo, b.hi),
				AgeMin:      b.lo,
				AgeMax:      b.hi,
				Sex:         sx.s,
				ChildOfHead: true,
			})
		}
	}
	return out
}
