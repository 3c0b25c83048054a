// Package server exposes the game core over HTTP: a health probe and the
// /events websocket endpoint every game client connects to.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"github.com/arenalabs/rally/events"
	"github.com/arenalabs/rally/match"
	"github.com/arenalabs/rally/session"
	"github.com/arenalabs/rally/tournament"
	"github.com/arenalabs/rally/types"
)

const (
	defaultPort     = "4040"
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	app  *fiber.App
	port string

	hub         *events.Hub
	matches     *match.Registry
	tournaments *tournament.Registry
}

// New builds the HTTP server around an already-running hub and the two
// registries.
func New(hub *events.Hub, matches *match.Registry, tournaments *tournament.Registry, opts ...Option) (*Server, error) {
	if hub == nil || matches == nil || tournaments == nil {
		return nil, eris.New("server requires a hub and both registries")
	}

	app := fiber.New(fiber.Config{
		Network:               "tcp", // Enable server listening on both ipv4 & ipv6 (default: ipv4 only)
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(cors.New())

	s := &Server{
		app:         app,
		port:        defaultPort,
		hub:         hub,
		matches:     matches,
		tournaments: tournaments,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s, nil
}

// Serve serves the application, blocking the calling goroutine until the
// context is canceled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("starting HTTP server at port %s", s.port)
		if err := s.app.Listen(":" + s.port); err != nil {
			serverErr <- eris.Wrap(err, "error starting http server")
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	log.Info().Msg("shutting down server")
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return eris.Wrap(err, "error shutting down server")
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Use("/events", upgradeMiddleware)
	s.app.Get("/events", websocket.New(s.handleConnection))
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

// upgradeMiddleware gates /events to websocket upgrade requests.
func upgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// handleConnection owns one client connection for its whole life: it mints a
// connection id, registers the socket with the hub, and pumps inbound frames
// into a fresh dispatcher until the read loop fails.
func (s *Server) handleConnection(conn *websocket.Conn) {
	connID := uuid.New().String()
	participant := types.Participant{ConnectionID: connID}

	s.hub.RegisterConnection(connID, conn)
	dispatcher := session.NewDispatcher(participant, s.matches, s.tournaments, s.hub)
	log.Info().Str("conn_id", connID).Msg("client connected")

	ctx := context.Background()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Info().Str("conn_id", connID).Err(err).Msg("client read loop closed")
			break
		}
		dispatcher.Dispatch(ctx, raw)
	}

	dispatcher.Disconnect()
	s.hub.UnregisterConnection(connID)
}

// errorHandler keeps fiber's error responses as bare status codes with a
// JSON body.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
