// Package server exposes the tiler over HTTP.
package server

import (
	"context"
	"errors"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/brunomvsouza/singleflight"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/iwpnd/kvadrere"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

const (
	serviceName      = "kvadrere"
	DefaultBodyLimit = 16 << 20
)

// Config wires the server's collaborators. Zero values fall back to
// defaults.
type Config struct {
	Tiler          *kvadrere.Tiler
	Logger         *zap.Logger
	Registry       *prometheus.Registry
	BodyLimit      int
	FeatureOptions []kvadrere.FeatureOption
}

type Server struct {
	app      *fiber.App
	tiler    *kvadrere.Tiler
	logger   *zap.Logger
	metrics  *metrics
	features []kvadrere.FeatureOption
	inflight singleflight.Group[string, []byte]
}

func New(cfg Config) *Server {
	if cfg.Tiler == nil {
		cfg.Tiler = kvadrere.NewTiler()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}

	s := &Server{
		tiler:    cfg.Tiler,
		logger:   cfg.Logger,
		metrics:  newMetrics(cfg.Registry),
		features: cfg.FeatureOptions,
	}

	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	prom := fiberprometheus.NewWithRegistry(cfg.Registry, serviceName, namespace, "http", nil)
	prom.RegisterAt(app, "/metrics")

	app.Use(requestid.New(requestid.Config{
		Generator: func() string { return ksuid.New().String() },
	}))
	app.Use(prom.Middleware)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	v1 := app.Group("/v1")
	v1.Post("/tile/:zoom", s.handleTile)
	v1.Get("/quadkey/:zoom", s.handleQuadKey)
	v1.Get("/box/:quadkey", s.handleBox)
	v1.Get("/children/:quadkey", s.handleChildren)

	s.app = app
	return s
}

// App returns the underlying fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

type errorResponse struct {
	Error   string `json:"error"`
	QuadKey string `json:"quadkey,omitempty"`
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var fe *fiber.Error
	var tileErr *kvadrere.TileError
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		resp.Error = fe.Message
	case errors.Is(err, kvadrere.ErrInvalidQuadKey), errors.Is(err, kvadrere.ErrUnsupportedGeometry):
		code = fiber.StatusBadRequest
	case errors.Is(err, kvadrere.ErrTopology):
		code = fiber.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = fiber.StatusServiceUnavailable
	}
	if errors.As(err, &tileErr) {
		resp.QuadKey = tileErr.Key.String()
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request handling failed",
			zap.String("request_id", requestID(c)),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	return c.Status(code).JSON(resp)
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string) //nolint:errcheck
	return id
}
