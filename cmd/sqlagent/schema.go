package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/sqlagent/internal/schema"
)

func newSchemaCmd(a *app) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema snapshot of a configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.cfg.Registry()
			if err != nil {
				return err
			}
			defer registry.DisconnectAll(context.Background())

			schemas := schema.NewService(registry, a.cfg.DefaultDatabase, a.cfg.SchemaMaxChars)
			key = schemas.Resolve(key)
			if !registry.Has(key) {
				return fmt.Errorf("unknown database %q", key)
			}
			out, err := schemas.FullSchema(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "database", "", "database key (default: the configured default)")
	return cmd
}
