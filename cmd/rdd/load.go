package main

import (
	"fmt"
	"math"
	"os"

	"github.com/kshedden/datareader"
	"github.com/kshedden/dstream/dstream"
)

// loadTable reads a Stata survey extract into an in-memory dstream.
// Numeric columns become float64 with NaN for missing; non-numeric
// columns are dropped.
func loadTable(path string) (dstream.Dstream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rdr, err := datareader.NewStataReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}

	series, err := rdr.Read(-1)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}

	var cols []interface{}
	var names []string
	for _, ser := range series {
		fs, missing, err := ser.UpcastNumeric().AsFloat64Slice()
		if err != nil {
			continue
		}
		if missing != nil {
			for i, m := range missing {
				if m {
					fs[i] = math.NaN()
				}
			}
		}
		cols = append(cols, fs)
		names = append(names, ser.Name)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s contains no numeric columns", path)
	}

	return dstream.NewFromFlat(cols, names), nil
}
