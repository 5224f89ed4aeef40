// Package statusapi serves a small local HTTP API for health checks and
// pairing administration while the bot is running.
package statusapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/shuv1337/shuvbot/internal/store"
)

// StatusSource reports per-account receiver state.
type StatusSource interface {
	GetStatus() map[string]interface{}
}

// Counter reports a size, e.g. the dedupe cache length.
type Counter interface {
	Len() int
}

// Server wires the handlers onto a fiber app.
type Server struct {
	app     *fiber.App
	status  StatusSource
	dedupe  Counter
	pairing store.PairingStore
	channel string
	version string
}

// New builds the API. The pairing routes are only mounted when token is
// non-empty; they require it in the X-Admin-Token header.
func New(version, channel, token string, status StatusSource, dedupe Counter, pairing store.PairingStore) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          10 * time.Second,
			IdleTimeout:           30 * time.Second,
			BodyLimit:             64 * 1024,
			DisableStartupMessage: true,
		}),
		status:  status,
		dedupe:  dedupe,
		pairing: pairing,
		channel: channel,
		version: version,
	}

	s.app.Use(recover.New())
	s.app.Get("/health", s.health)
	s.app.Get("/status", s.statusHandler)

	if token != "" && pairing != nil {
		admin := s.app.Group("/pairing", adminToken(token))
		admin.Get("/", s.listPairing)
		admin.Post("/:code/approve", s.approvePairing)
	}
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(addr) }()
	slog.Info("status api listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(5 * time.Second)
	}
}

func adminToken(expected string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get("X-Admin-Token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "invalid admin token"})
		}
		return c.Next()
	}
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) statusHandler(c *fiber.Ctx) error {
	out := fiber.Map{
		"version":  s.version,
		"accounts": s.status.GetStatus(),
	}
	if s.dedupe != nil {
		out["dedupe_entries"] = s.dedupe.Len()
	}
	return c.JSON(out)
}

func (s *Server) listPairing(c *fiber.Ctx) error {
	reqs, err := s.pairing.ListPairingRequests(c.UserContext(), s.channel)
	if err != nil {
		slog.Warn("status api: list pairing requests", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store unavailable"})
	}
	if reqs == nil {
		reqs = []store.PairingRequest{}
	}
	return c.JSON(fiber.Map{"requests": reqs})
}

func (s *Server) approvePairing(c *fiber.Ctx) error {
	req, err := s.pairing.ApprovePairing(c.UserContext(), s.channel, c.Params("code"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown or expired code"})
	}
	if err != nil {
		slog.Warn("status api: approve pairing", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store unavailable"})
	}
	slog.Info("pairing approved via status api", "sender_id", req.SenderID, "account_id", req.AccountID)
	return c.JSON(req)
}
