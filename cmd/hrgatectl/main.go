// Command hrgatectl is the operator CLI: schema migrations, principal management and
// token tooling.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hrgate.org/internal/config"
	"hrgate.org/internal/obs"
	"hrgate.org/internal/store/pg"
)

var version = "0.1.0"

type globalFlags struct {
	configPath string
	dsn        string
	output     string
	timeout    time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "hrgatectl",
		Short: "Operator CLI for hrgate",
		Long: `hrgatectl manages the hrgate database schema, principals and tokens.

Configuration is read from --config (or HRGATE_CONFIG) and HRGATE_* environment
variables, the same way the API server reads it.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			obs.SetLogger(obs.NewLogger(cmd.ErrOrStderr(), "warn"))
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("HRGATE_CONFIG"), "Path to YAML config")
	root.PersistentFlags().StringVar(&g.dsn, "dsn", "", "PostgreSQL DSN (overrides config)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "Output format: text, json, yaml")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "Timeout for database and network calls")

	root.AddCommand(
		newMigrateCmd(g),
		newHashPasswordCmd(g),
		newIssueTokenCmd(g),
		newPrincipalCmd(g),
		newAuthenticateCmd(g),
	)
	return root
}

func (g *globalFlags) config() (*config.Config, error) {
	cfg, err := config.Read(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.dsn != "" {
		cfg.Database.DSN = g.dsn
	}
	return cfg, nil
}

func (g *globalFlags) context(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, g.timeout)
}

// openStore connects to PostgreSQL using the resolved DSN.
func (g *globalFlags) openStore(ctx context.Context) (*pg.Store, *config.Config, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, nil, fmt.Errorf("missing DSN: provide --dsn, database.dsn or HRGATE_PG_DSN")
	}
	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}
	return store, cfg, nil
}

// emit writes v in the selected format; text falls back to fn.
func (g *globalFlags) emit(w io.Writer, v any, text func(io.Writer)) error {
	switch g.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		return yaml.NewEncoder(w).Encode(v)
	case "text", "":
		text(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", g.output)
	}
}

// readSecret returns flagVal, or the first line of stdin when flagVal is "-" or empty.
func readSecret(cmd *cobra.Command, flagVal string) (string, error) {
	if flagVal != "" && flagVal != "-" {
		return flagVal, nil
	}
	data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return "", fmt.Errorf("password is required (flag or stdin)")
	}
	return line, nil
}
