package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hrgate.org/internal/migrate"
)

func newMigrateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the embedded schema migrations",
	}

	run := func(action func(cmd *cobra.Command, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd.Context())
			defer cancel()
			store, _, err := g.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			cmd.SetContext(ctx)
			return action(cmd, migrate.NewManager(store.DB()))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Up(cmd.Context())
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), map[string]any{"applied": applied}, func(w io.Writer) {
					if len(applied) == 0 {
						fmt.Fprintln(w, "schema is up to date")
					}
					for _, name := range applied {
						fmt.Fprintf(w, "applied %s\n", name)
					}
				})
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				name, err := m.Down(cmd.Context())
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), map[string]any{"rolled_back": name}, func(w io.Writer) {
					fmt.Fprintf(w, "rolled back %s\n", name)
				})
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				pending, err := m.Pending(cmd.Context())
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), map[string]any{"applied": applied, "pending": pending}, func(w io.Writer) {
					for _, name := range applied {
						fmt.Fprintf(w, "applied  %s\n", name)
					}
					for _, name := range pending {
						fmt.Fprintf(w, "pending  %s\n", name)
					}
				})
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Run seed files that have not run yet",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				seeded, err := m.Seed(cmd.Context())
				if err != nil {
					return err
				}
				return g.emit(cmd.OutOrStdout(), map[string]any{"seeded": seeded}, func(w io.Writer) {
					for _, name := range seeded {
						fmt.Fprintf(w, "seeded %s\n", name)
					}
				})
			}),
		},
	)
	return cmd
}
