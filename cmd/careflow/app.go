package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dukex/careflow/pkg/auth"
	"github.com/dukex/careflow/pkg/client"
	"github.com/dukex/careflow/pkg/config"
	"github.com/dukex/careflow/pkg/log"
	"github.com/dukex/careflow/pkg/otelhelper"
	"github.com/dukex/careflow/pkg/scheduler"
	"github.com/dukex/careflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

var errUsage = errors.New("invalid usage")

type app struct {
	logger      *slog.Logger
	api         *client.Client
	coordinator *scheduler.Coordinator
	service     *services.Workflow
	out         io.Writer
}

// resolveProfile layers explicitly set flags over the profile file.
func resolveProfile(command *cli.Command) (config.Profile, error) {
	profile, err := config.LoadProfileOrDefault(command.String("config"))
	if err != nil {
		return config.Profile{}, err
	}

	if command.IsSet("api-url") || profile.APIURL == "" {
		profile.APIURL = command.String("api-url")
	}

	if command.IsSet("timeout") {
		profile.Timeout = command.Duration("timeout")
	}

	if command.IsSet("concurrency") {
		profile.Concurrency = command.Int("concurrency")
	}

	if command.IsSet("log-level") {
		profile.LogLevel = command.String("log-level")
	}

	if command.IsSet("log-format") {
		profile.LogFormat = command.String("log-format")
	}

	profile = profile.WithToken(auth.RoleDoctor, command.String("doctor-token"))
	profile = profile.WithToken(auth.RoleAdmin, command.String("admin-token"))

	return profile, config.ValidateProfile(profile)
}

// withApp wires the client, coordinator and workflow service for one
// command invocation and tears down tracing afterwards.
func withApp(run func(ctx context.Context, a *app, command *cli.Command) error) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		profile, err := resolveProfile(command)
		if err != nil {
			return err
		}

		log.Setup(profile.LogLevel, profile.LogFormat)
		logger := log.WithModule("cli")

		role := auth.Role(command.String("role"))
		if role != auth.RoleDoctor && role != auth.RoleAdmin {
			return fmt.Errorf("%w: unknown role %q", errUsage, role)
		}

		api, err := client.New(profile.APIURL, profile.Tokens(ctx),
			client.WithRole(role),
			client.WithTimeout(profile.Timeout),
			client.WithLogger(logger),
		)
		if err != nil {
			return err
		}

		opts := []scheduler.Option{scheduler.WithConcurrency(profile.Concurrency)}

		if command.Bool("otel") {
			tracer, err := otelhelper.NewTracer(ctx, "careflow")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				if err := otelhelper.Shutdown(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			opts = append(opts, scheduler.WithTracer(tracer))
		}

		coordinator := scheduler.NewCoordinator(api, logger, opts...)

		return run(ctx, &app{
			logger:      logger,
			api:         api,
			coordinator: coordinator,
			service:     services.NewWorkflow(api, coordinator, logger),
			out:         command.Root().Writer,
		}, command)
	}
}

func (a *app) print(v any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

func requireArgs(command *cli.Command, names ...string) error {
	if command.Args().Len() < len(names) {
		return fmt.Errorf("%w: %s expects %v", errUsage, command.Name, names)
	}

	return nil
}
