package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDatabasesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List the configured databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys := make([]string, 0, len(a.cfg.Databases))
			for key := range a.cfg.Databases {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tTYPE\tNAME\tDEFAULT")
			for _, key := range keys {
				db := a.cfg.Databases[key]
				def := ""
				if key == a.cfg.DefaultDatabase {
					def = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", key, db.Type, db.Name, def)
			}
			return tw.Flush()
		},
	}
}
