package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hrgate.org/internal/audit"
	"hrgate.org/internal/auth"
	"hrgate.org/internal/store/pg"
)

// cliActor is recorded as the actor of changes made from this tool.
const cliActor = "system:hrgatectl"

func newPrincipalCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principal",
		Short: "Create and (de)activate login accounts",
	}
	cmd.AddCommand(newPrincipalCreateCmd(g), newPrincipalActiveCmd(g, "deactivate", false), newPrincipalActiveCmd(g, "activate", true))
	return cmd
}

func newPrincipalCreateCmd(g *globalFlags) *cobra.Command {
	var email, role, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active principal",
		Long: `Create an active principal. The password is read from --password, or from the
first line of stdin when the flag is omitted.

Example:
  echo 's3cret-passphrase' | hrgatectl principal create --email ada@example.com --role hr_manager`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			pw, err := readSecret(cmd, password)
			if err != nil {
				return err
			}
			if err := auth.ValidateNewPassword(pw); err != nil {
				return err
			}

			ctx, cancel := g.context(cmd.Context())
			defer cancel()
			store, cfg, err := g.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			hasher, err := auth.NewHasher(cfg.Auth.HashCost)
			if err != nil {
				return err
			}
			digest, err := hasher.Hash(pw)
			if err != nil {
				return err
			}

			var created auth.Principal
			err = mutate(ctx, store, func(ctx context.Context) (audit.Entry, error) {
				p, err := store.CreatePrincipal(ctx, auth.Principal{
					Email:        email,
					Role:         r,
					PasswordHash: digest,
					Active:       true,
				})
				if err != nil {
					return audit.Entry{}, err
				}
				created = p
				return audit.Entry{
					ActorID:    cliActor,
					Verb:       audit.VerbCreate,
					EntityType: "user",
					EntityID:   p.ID,
					After:      p,
				}, nil
			})
			if err != nil {
				return err
			}
			return g.emit(cmd.OutOrStdout(), created, func(w io.Writer) {
				fmt.Fprintf(w, "created %s (%s, %s)\n", created.ID, created.Email, created.Role)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Login email")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleEmployee), "Role: admin, hr_manager, manager, employee")
	cmd.Flags().StringVar(&password, "password", "", "Initial password (default: read stdin)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newPrincipalActiveCmd(g *globalFlags, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <principal-id>",
		Short: fmt.Sprintf("Mark a principal %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.context(cmd.Context())
			defer cancel()
			store, _, err := g.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			id := args[0]
			err = mutate(ctx, store, func(ctx context.Context) (audit.Entry, error) {
				before, err := store.FindPrincipalByID(ctx, id)
				if err != nil {
					return audit.Entry{}, err
				}
				if err := store.SetPrincipalActive(ctx, id, active); err != nil {
					return audit.Entry{}, err
				}
				after := before
				after.Active = active
				return audit.Entry{
					ActorID:    cliActor,
					Verb:       audit.VerbUpdate,
					EntityType: "user",
					EntityID:   id,
					Before:     before,
					After:      after,
				}, nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", id, use)
			return nil
		},
	}
}

// mutate runs fn in a database transaction together with its audit record.
func mutate(ctx context.Context, store *pg.Store, fn func(ctx context.Context) (audit.Entry, error)) error {
	w, err := audit.NewWriter(store, audit.WithPolicy(audit.FailClosed))
	if err != nil {
		return err
	}
	_, err = w.Mutate(ctx, store, fn)
	return err
}
