package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCheckCmd validates the config file without making any network
// calls: load, normalize, validate, report the repositories found, exit
// non-zero on error.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config-file>",
		Short: "Validate a config file without contacting any upstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(args); err != nil {
				return err
			}
			fmt.Printf("config OK: %d repositories configured\n", len(globalCfg.Repo))
			for _, r := range globalCfg.Repo {
				dest := "local"
				if r.S3 != nil {
					dest = "s3"
				}
				fmt.Printf("  - %s (%s -> %s)\n", r.Name, r.Kind, dest)
			}
			return nil
		},
	}
}
