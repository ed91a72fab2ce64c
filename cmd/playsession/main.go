package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"playsession/internal/app"
	"playsession/internal/auth"
	"playsession/internal/config"
	xlog "playsession/internal/log"
	"playsession/internal/session"
	"playsession/pkg/types"
)

// ARCHITECTURAL DISCOVERY: every subcommand shares the same configuration
// pipeline, so the root command loads it once before dispatch.
type cli struct {
	configPath string
	cfg        *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "playsession",
		Short:         "Live play session runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			xlog.Configure(xlog.Config{
				Level:   cfg.Log.Level,
				Format:  cfg.Log.Format,
				Output:  cmd.ErrOrStderr(),
				Service: "playsession",
			})
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("PLAYSESSION_CONFIG_FILE"), "path to a YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and WebSocket server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Bring the session store schema up to date",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := app.OpenStore(cmd.Context(), c.cfg.Database)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", c.cfg.Database.Driver)
				return store.Close()
			},
		},
		&cobra.Command{
			Use:   "import-game <file>",
			Short: "Validate and store a game configuration (YAML or JSON)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.importGame(cmd, args[0])
			},
		},
		c.tokenCmd(),
	)
	return root
}

// serve runs until SIGINT or SIGTERM.
func (c *cli) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return application.Run(ctx)
}

func (c *cli) importGame(cmd *cobra.Command, path string) error {
	game, err := readGame(path)
	if err != nil {
		return err
	}
	if err := session.ValidateGame(game); err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := app.OpenStore(ctx, c.cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	ctrl := session.NewController(store, nil)
	operator := types.Viewer{Kind: types.ViewerHost, UserID: "cli", IsAdmin: true}
	res, err := ctrl.ImportGame(ctx, operator, game)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "imported game %s\n", res.GameID)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

// readGame accepts the JSON wire shape, or the same document written as YAML.
func readGame(path string) (*types.Game, error) {
	// #nosec G304 -- the path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", path, err)
		}
	}
	var game types.Game
	if err := json.Unmarshal(data, &game); err != nil {
		return nil, fmt.Errorf("failed to decode game in %s: %w", path, err)
	}
	return &game, nil
}

func (c *cli) tokenCmd() *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a host bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := auth.NewResolver(auth.Config{
				JWTSecret:           c.cfg.Auth.JWTSecret,
				Issuer:              c.cfg.Auth.Issuer,
				HostTokenTTL:        c.cfg.Auth.HostTokenTTL,
				ParticipantTokenTTL: c.cfg.Auth.ParticipantTokenTTL,
			}, nil)
			if err != nil {
				return err
			}
			token, err := resolver.IssueHostToken(args[0], admin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "grant game import rights")
	return cmd
}
