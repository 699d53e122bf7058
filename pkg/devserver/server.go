package devserver

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/careflow/pkg/persistence"
	"github.com/dukex/careflow/pkg/scheduler"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const shutdownTimeout = 10 * time.Second

// Server serves the workflow API and its job queue endpoints.
type Server struct {
	store       persistence.Persistence
	jobs        JobStore
	queue       *Queue
	coordinator *scheduler.Coordinator
	metrics     *Metrics
	validate    *validator.Validate
	tokens      []string
	logger      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTokens requires every API request to carry one of the bearer tokens.
// Without tokens the server accepts anonymous requests.
func WithTokens(tokens ...string) Option {
	return func(s *Server) {
		for _, token := range tokens {
			if token != "" {
				s.tokens = append(s.tokens, token)
			}
		}
	}
}

// NewServer wires the API over a workflow store and a queue.
func NewServer(store persistence.Persistence, queue *Queue, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		store:       store,
		jobs:        queue.jobs,
		queue:       queue,
		coordinator: scheduler.NewCoordinator(queue, logger),
		metrics:     queue.metrics,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "devserver"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// App builds the fiber application with every route registered.
func (s *Server) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Careflow dev server")
	})

	app.Get("/health", s.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	w := app.Group("/workflows", s.authenticate)
	w.Get("/", s.ListWorkflows)
	w.Post("/", s.CreateWorkflow)
	w.Post("/queue/job", s.SubmitJob)
	w.Get("/:id", s.GetWorkflow)
	w.Put("/:id", s.UpdateWorkflow)
	w.Delete("/:id", s.DeleteWorkflow)
	w.Patch("/:id/status", s.UpdateStatus)
	w.Post("/:id/assign", s.AssignPatients)
	w.Post("/:id/cancel", s.CancelWorkflow)
	w.Post("/:id/schedule", s.ScheduleWorkflow)
	w.Get("/:id/history", s.History)
	w.Post("/:id/steps/:order/result", s.RecordStepResult)

	return app
}

// Start serves the API on port until ctx is cancelled, then shuts the
// listener down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	app := s.App()
	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	s.logger.InfoContext(ctx, "Dev server listening", "port", port)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}

func (s *Server) authenticate(c fiber.Ctx) error {
	if len(s.tokens) == 0 {
		return c.Next()
	}

	token, found := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !found || token == "" {
		return unauthorized(c)
	}

	for _, allowed := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(allowed)) == 1 {
			return c.Next()
		}
	}

	return unauthorized(c)
}
