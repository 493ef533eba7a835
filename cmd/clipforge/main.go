package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:     "clipforge",
		Short:   "clipforge - short-form video pipeline with caching, budgets and fallbacks",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newCacheCmd(),
		newBudgetCmd(),
		newCostCmd(),
		newAlertsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
