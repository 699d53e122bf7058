package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/careflow/pkg/config"
	cli "github.com/urfave/cli/v3"
)

func main() {
	err := newCommand().Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "careflow:", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                  "careflow",
		Usage:                 "Manage care workflows and the jobs scheduled for their patients",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a careflow.yaml profile",
				Sources: cli.EnvVars("CAREFLOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Base URL of the workflow API",
				Value:   config.DefaultAPIURL,
				Sources: cli.EnvVars("CAREFLOW_API_URL"),
			},
			&cli.StringFlag{
				Name:    "doctor-token",
				Usage:   "Access token for doctor calls",
				Sources: cli.EnvVars("CAREFLOW_DOCTOR_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Usage:   "Access token for admin calls",
				Sources: cli.EnvVars("CAREFLOW_ADMIN_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "role",
				Usage:   "Role whose token authenticates calls (doctor, admin)",
				Value:   "doctor",
				Sources: cli.EnvVars("CAREFLOW_ROLE"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Maximum number of jobs submitted at once",
				Value:   config.DefaultConcurrency,
				Sources: cli.EnvVars("CAREFLOW_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "Timeout of each API request",
				Value:   config.DefaultTimeout,
				Sources: cli.EnvVars("CAREFLOW_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces with the OTLP HTTP exporter",
				Sources: cli.EnvVars("CAREFLOW_OTEL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   config.DefaultLogLevel,
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   config.DefaultLogFormat,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Commands: []*cli.Command{
			validateCommand(),
			createCommand(),
			updateCommand(),
			getCommand(),
			statusCommand(),
			deleteCommand(),
			assignCommand(),
			scheduleCommand(),
			cancelCommand(),
			historyCommand(),
			resultCommand(),
			stepCommand(),
		},
	}
}
