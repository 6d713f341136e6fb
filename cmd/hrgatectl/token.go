package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"hrgate.org/internal/auth"
	"hrgate.org/internal/httpapi"
)

func newHashPasswordCmd(g *globalFlags) *cobra.Command {
	var password string
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt digest of a password",
		Long: `Print the bcrypt digest of a password, read from --password or the first line of
stdin. Useful for seeding principals by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd, password)
			if err != nil {
				return err
			}
			if err := auth.ValidateNewPassword(pw); err != nil {
				return err
			}
			h, err := auth.NewHasher(cost)
			if err != nil {
				return err
			}
			digest, err := h.Hash(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password (default: read stdin)")
	cmd.Flags().IntVar(&cost, "cost", auth.DefaultHashCost, "bcrypt cost")
	return cmd
}

func newIssueTokenCmd(g *globalFlags) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue-token <principal-id>",
		Short: "Issue an access token for an active principal without a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := g.context(cmd.Context())
			defer cancel()
			store, cfg, err := g.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			codec, err := auth.NewCodec([]byte(cfg.Auth.Secret), auth.WithIssuer(cfg.Auth.Issuer))
			if err != nil {
				return err
			}
			hasher, err := auth.NewHasher(cfg.Auth.HashCost)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			svc, err := auth.NewService(store, hasher, codec, auth.WithTokenTTL(ttl))
			if err != nil {
				return err
			}
			res, err := svc.IssueToken(ctx, args[0])
			if err != nil {
				return err
			}
			out := map[string]any{
				"token":        res.Token,
				"expires_at":   res.ExpiresAt.UTC().Format(time.RFC3339),
				"principal_id": res.Principal.ID,
				"role":         string(res.Principal.Role),
			}
			return g.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintln(w, res.Token)
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.token_ttl)")
	return cmd
}

func newAuthenticateCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "authenticate <token>",
		Short: "Ask a running server over gRPC who a token belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := g.config()
				if err != nil {
					return err
				}
				addr = cfg.GRPC.Addr
			}
			if addr == "" {
				return fmt.Errorf("missing gRPC address: provide --grpc-addr or grpc.addr")
			}
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("connect %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := g.context(cmd.Context())
			defer cancel()
			out, err := httpapi.NewAuthServiceClient(conn).Authenticate(ctx, args[0])
			if err != nil {
				return err
			}
			fields := out.AsMap()
			return g.emit(cmd.OutOrStdout(), fields, func(w io.Writer) {
				keys := make([]string, 0, len(fields))
				for k := range fields {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(w, "%-14s %v\n", k+":", fields[k])
				}
			})
		},
	}
	cmd.Flags().StringVar(&addr, "grpc-addr", "", "gRPC address of hrgate-api (default: grpc.addr)")
	return cmd
}
