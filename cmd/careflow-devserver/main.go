package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/careflow/pkg/cmd"
	"github.com/dukex/careflow/pkg/devserver"
	"github.com/dukex/careflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9092

func main() {
	command := &cli.Command{
		Name:                  "careflow-devserver",
		Usage:                 "Run the workflow API and a local job queue for development",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Workflow store URL (postgres://... or a directory)",
				Value:   "./data/workflows",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "jobs-url",
				Usage:   "Job store URL (redis://... or memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("JOBS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers for the kafka event bus",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.BoolFlag{
				Name:    "audit-events",
				Usage:   "Log every job event read back from the event bus",
				Value:   true,
				Sources: cli.EnvVars("AUDIT_EVENTS"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often due jobs are dispatched",
				Value:   time.Minute,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "doctor-token",
				Usage:   "Bearer token accepted for doctor calls; no tokens allows anonymous calls",
				Sources: cli.EnvVars("CAREFLOW_DOCTOR_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "admin-token",
				Usage:   "Bearer token accepted for admin calls",
				Sources: cli.EnvVars("CAREFLOW_ADMIN_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "careflow-devserver:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))
	logger := log.WithModule("devserver")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing Careflow dev server")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	jobs, err := cmd.NewJobStore(ctx, logger, command.String("jobs-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := jobs.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close job store", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	if command.Bool("audit-events") {
		err = subscribeAudit(ctx, eventBus, logger)
		if err != nil {
			return fmt.Errorf("failed to subscribe to job events: %w", err)
		}
	}

	queue := devserver.NewQueue(store, jobs, eventBus, devserver.NewMetrics(), logger)

	dispatcher := devserver.NewDispatcher(queue, logger, devserver.WithPollInterval(command.Duration("poll-interval")))
	dispatcher.Start(ctx)
	defer dispatcher.Stop(context.WithoutCancel(ctx))

	server := devserver.NewServer(store, queue, logger,
		devserver.WithTokens(command.String("doctor-token"), command.String("admin-token")),
	)

	return server.Start(ctx, command.Int("port"))
}
