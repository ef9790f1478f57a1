package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/councilhub/internal"
	"github.com/starford/councilhub/internal/auth"
	"github.com/starford/councilhub/internal/listing"
	"github.com/starford/councilhub/internal/mcpserver"
	"github.com/starford/councilhub/internal/treeview"
	pkgconfig "github.com/starford/councilhub/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// stderrLogger keeps stdout free for command output and the MCP transport.
func stderrLogger(cfg *internal.Config) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(cfg.App.LogLevel)
	return internal.NewLogger(os.Stderr, level)
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithConfigPath(cmd.String("config")),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func setUser(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := internal.OpenStore(cfg.Database, stderrLogger(cfg), nil)
	if err != nil {
		return err
	}
	defer db.Close()

	hash, err := auth.HashPassword(cmd.String("password"))
	if err != nil {
		return err
	}
	u, err := db.SaveUser(ctx, cmd.String("username"), hash)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	fmt.Printf("user %q saved (id %d)\n", u.Username, u.ID)
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := stderrLogger(cfg)
	slog.SetDefault(logger)

	db, err := internal.OpenStore(cfg.Database, logger, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, _, err := internal.OpenBlobs(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	srv := mcpserver.New(listing.New(db.Gorm()), treeview.New(db.Gorm(), blobs))
	logger.Info("MCP server listening on stdio")
	return srv.ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:   "councilhub",
		Usage:  "Admin backend for council meeting notifications, meeting records and regulations",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "user",
				Usage: "Manage admin accounts",
				Commands: []*cli.Command{
					{
						Name:   "set",
						Usage:  "Create an admin or reset its password",
						Action: setUser,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
							&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true, Sources: cli.EnvVars("COUNCILHUB_PASSWORD")},
						},
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve read-only content tools over MCP stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
