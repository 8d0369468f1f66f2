package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "rdd",
		Short: "RD / difference-in-discontinuities estimation for the cash-transfer eligibility cutoff",
		Long: `rdd estimates the effect of the income-eligibility cutoff of the
cash-transfer program on attendance outcomes, across demographic
subgroups of single-mother households, using regression-discontinuity
and difference-in-discontinuities designs.`,
	}

	rootCmd.PersistentFlags().String("config", "rdd.yaml", "Path to the YAML configuration file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newDensityCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rdd version %s\n", version)
		},
	}
}
