package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sermonpipe/internal/api"
	"sermonpipe/internal/config"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/metrics"
	"sermonpipe/internal/preflight"
	"sermonpipe/internal/queue"
	"sermonpipe/internal/services"
	"sermonpipe/internal/source"
)

const (
	headerRequestID = "X-Request-Id"
	shutdownTimeout = 5 * time.Second
	defaultPruneAge = 7 * 24 * time.Hour
	sermonListLimit = 50
)

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	svc      *api.Service
	backends preflight.Backends
	metrics  *metrics.Recorder
	app      *fiber.App

	mu   sync.Mutex
	addr string
}

func newAPIServer(cfg *config.Config, d *Daemon, svc *api.Service, backends preflight.Backends, recorder *metrics.Recorder, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.Paths.APIBind),
		logger:   logging.NewComponentLogger(logger, "api-server"),
		daemon:   d,
		svc:      svc,
		backends: backends,
		metrics:  recorder,
	}
	srv.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          srv.handleError,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           60 * time.Second,
	})

	srv.app.Use(srv.requestMiddleware)
	srv.app.Get("/healthz", srv.handleHealth)
	if registry := recorder.Registry(); registry != nil {
		srv.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	group := srv.app.Group("/api", authMiddleware(cfg.Paths.APIToken))
	group.Get("/status", srv.handleStatus)
	group.Post("/jobs", srv.handleSubmit)
	group.Get("/jobs/:id", srv.handleJob)
	group.Post("/jobs/:id/abort", srv.handleAbort)
	group.Get("/tasks", srv.handleTasks)
	group.Post("/tasks/retry", srv.handleRetry)
	group.Delete("/tasks", srv.handlePrune)
	group.Get("/sermons", srv.handleSermons)
	group.Put("/sermons/:id", srv.handlePutSermon)
	return srv
}

func (s *apiServer) listen() (net.Listener, error) {
	if s.bind == "" {
		return nil, nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return nil, fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()
	s.logger.Info("api server listening", logging.String("address", s.addr))
	return listener, nil
}

func (s *apiServer) serve(listener net.Listener) error {
	if listener == nil {
		return nil
	}
	return s.app.Listener(listener)
}

func (s *apiServer) shutdown() {
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		s.logger.Warn("api server shutdown incomplete", logging.Error(err))
	}
	s.mu.Lock()
	s.addr = ""
	s.mu.Unlock()
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// requestMiddleware tags the request with an id, logs it and records metrics.
func (s *apiServer) requestMiddleware(c *fiber.Ctx) error {
	start := time.Now()

	reqID := c.Get(headerRequestID)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	c.Set(headerRequestID, reqID)
	c.SetUserContext(services.WithRequestID(c.UserContext(), reqID))

	err := c.Next()
	if err != nil {
		if handlerErr := s.handleError(c, err); handlerErr != nil {
			return handlerErr
		}
	}

	status := c.Response().StatusCode()
	route := c.Route().Path
	latency := time.Since(start)
	s.metrics.ObserveRequest(c.Method(), route, status, latency)
	s.logger.Debug("request",
		logging.String(logging.FieldCorrelationID, reqID),
		logging.String("method", c.Method()),
		logging.String("path", c.Path()),
		logging.Int("status", status),
		logging.Int64("latency_ms", latency.Milliseconds()),
	)
	return nil
}

// handleError renders err in the ErrorResponse envelope.
func (s *apiServer) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(api.ErrorResponse{Error: fe.Message})
	}
	status := services.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		logging.ErrorWithContext(s.logger, "api request failed", "api_request_failed",
			logging.String("path", c.Path()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "see the wrapped error for the failing backend"),
		)
	}
	return c.Status(status).JSON(api.ErrorResponse{
		Error: services.UserMessage(err),
		Kind:  string(services.KindOf(err)),
	})
}

func (s *apiServer) handleHealth(c *fiber.Ctx) error {
	if c.Query("deep") != "true" {
		return c.JSON(api.HealthResponse{Status: "ok"})
	}
	ctx := c.UserContext()
	var results []preflight.Result
	if s.backends.Documents != nil {
		results = append(results, preflight.CheckPing(ctx, "Document store", s.backends.Documents))
	}
	if s.backends.Progress != nil {
		results = append(results, preflight.CheckPing(ctx, "Progress channel", s.backends.Progress))
	}
	if s.backends.Queue != nil {
		results = append(results, preflight.CheckPing(ctx, "Task queue", s.backends.Queue))
	}
	if s.backends.Bucket != nil {
		results = append(results, preflight.CheckBucket(ctx, s.backends.Bucket))
	}
	health := api.FromPreflight(results)
	if health.Status != "ok" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(health)
	}
	return c.JSON(health)
}

func (s *apiServer) handleStatus(c *fiber.Ctx) error {
	status := s.daemon.Status(c.UserContext())
	return c.JSON(api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		APIBind:      status.APIBind,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: api.FromDependencies(status.Dependencies),
	})
}

func (s *apiServer) handleSubmit(c *fiber.Ctx) error {
	payload, err := source.DecodePayload(c.Body())
	if err != nil {
		return err
	}
	task, err := s.svc.Submit(c.UserContext(), payload)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(api.TaskResponse{Task: task})
}

func (s *apiServer) handleJob(c *fiber.Ctx) error {
	job, err := s.svc.Job(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(job)
}

func (s *apiServer) handleAbort(c *fiber.Ctx) error {
	result, err := s.svc.Abort(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if result.Outcome == api.AbortNotFound {
		return c.Status(fiber.StatusNotFound).JSON(result)
	}
	return c.JSON(result)
}

func (s *apiServer) handleTasks(c *fiber.Ctx) error {
	var statuses []queue.Status
	for _, value := range strings.Split(c.Query("status"), ",") {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		status, ok := queue.ParseStatus(trimmed)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown status %q", trimmed))
		}
		statuses = append(statuses, status)
	}
	tasks, err := s.svc.Tasks(c.UserContext(), statuses...)
	if err != nil {
		return err
	}
	return c.JSON(api.TaskListResponse{Tasks: tasks})
}

func (s *apiServer) handleRetry(c *fiber.Ctx) error {
	var req api.RetryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed retry request")
		}
	}
	result, err := api.RetryFailedTasksByID(c.UserContext(), s.svc, req.IDs)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (s *apiServer) handlePrune(c *fiber.Ctx) error {
	age := defaultPruneAge
	if raw := strings.TrimSpace(c.Query("olderThan")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid olderThan %q", raw))
		}
		age = parsed
	}
	result, err := s.svc.Prune(c.UserContext(), age)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (s *apiServer) handleSermons(c *fiber.Ctx) error {
	limit := sermonListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}
	sermons, err := s.svc.Sermons(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(api.SermonListResponse{Sermons: sermons})
}

func (s *apiServer) handlePutSermon(c *fiber.Ctx) error {
	var input api.SermonInput
	if err := c.BodyParser(&input); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed sermon body")
	}
	sermon, err := s.svc.PutSermon(c.UserContext(), c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(sermon)
}
