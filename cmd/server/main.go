package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
)

func main() {
	app := &cli.App{
		Name:  config.ServiceName,
		Usage: "inventory stock ledger service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before the environment",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP and gRPC servers",
				Action: serveAction,
			},
			{
				Name:  "migrate",
				Usage: "manage the MySQL schema",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(c *cli.Context) error {
							cfg, err := config.Load(c.String("env-file"))
							if err != nil {
								return err
							}
							return storage.MigrateMySQL(cfg.DSN)
						},
					},
					{
						Name:  "down",
						Usage: "revert migrations",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "steps", Value: 1},
						},
						Action: func(c *cli.Context) error {
							cfg, err := config.Load(c.String("env-file"))
							if err != nil {
								return err
							}
							return storage.RollbackMySQL(cfg.DSN, c.Int("steps"))
						},
					},
					{
						Name:  "version",
						Usage: "print the applied schema version",
						Action: func(c *cli.Context) error {
							cfg, err := config.Load(c.String("env-file"))
							if err != nil {
								return err
							}
							version, dirty, err := storage.MySQLSchemaVersion(cfg.DSN)
							if err != nil {
								return err
							}
							fmt.Printf("version=%d dirty=%t\n", version, dirty)
							return nil
						},
					},
				},
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return serve(c.Context, cfg)
}
