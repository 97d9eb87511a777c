// Package web serves the operations console API: session control, a
// read-only CRM view, manual tool dispatch, call monitoring and metrics.
package web

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/teslashibe/voiceops/pkg/callaudio"
	"github.com/teslashibe/voiceops/pkg/crm"
	"github.com/teslashibe/voiceops/pkg/hub"
	"github.com/teslashibe/voiceops/pkg/session"
	"github.com/teslashibe/voiceops/pkg/telemetry"
	"github.com/teslashibe/voiceops/pkg/tools"
)

// Deps are the engine components the console exposes.
type Deps struct {
	Session *session.Session
	Store   *crm.Store
	Tools   *tools.Dispatcher
	Calls   *callaudio.Monitor
	Metrics *telemetry.Metrics

	// Defaults fill in fields a start request leaves empty.
	Defaults session.StartOptions
}

// Server is the console HTTP server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger
	deps   Deps

	// Hubs for websocket broadcast
	crmHub        *hub.Hub
	transcriptHub *hub.Hub

	unsubscribe func()
}

// NewServer wires routes and event fan-out. It does not start listening.
func NewServer(addr string, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Session == nil || deps.Store == nil || deps.Tools == nil || deps.Calls == nil {
		return nil, errors.New("web: session, store, tools and calls are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		addr:          addr,
		logger:        logger,
		deps:          deps,
		crmHub:        hub.New("crm", logger),
		transcriptHub: hub.New("transcript", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voiceops console",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	api := app.Group("/api")
	api.Get("/bookings", s.handleListBookings)
	api.Get("/bookings/:pnr", s.handleGetBooking)

	api.Get("/tools", s.handleListTools)
	api.Post("/tools/:name", s.handleDispatchTool)

	api.Get("/session", s.handleSessionState)
	api.Get("/session/transcript", s.handleTranscript)
	api.Post("/session/start", s.handleSessionStart)
	api.Post("/session/end", s.handleSessionEnd)
	api.Post("/session/mic/pause", s.handleMicPause)
	api.Post("/session/mic/resume", s.handleMicResume)

	api.Get("/calls", s.handleListCalls)
	api.Post("/calls/:id/listen", s.handleListen)
	api.Delete("/calls/:id/listen", s.handleStopListening)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/crm", websocket.New(s.handleCRMWS))
	app.Get("/ws/transcript", websocket.New(s.handleTranscriptWS))

	s.app = app
	s.wireEvents()
	return s, nil
}

// wireEvents forwards store and session events to the hubs.
func (s *Server) wireEvents() {
	s.unsubscribe = s.deps.Store.Subscribe(func(snapshot []crm.Booking) {
		crm.SortByFlightDateDesc(snapshot)
		s.publish(s.crmHub, "crm.snapshot", snapshot)
	})

	sess := s.deps.Session
	sess.OnPhase(func(p session.Phase) {
		s.publish(s.transcriptHub, "session.phase", p)
	})
	sess.OnTranscript(func(ev session.TranscriptEvent) {
		s.publish(s.transcriptHub, "transcript", ev)
	})
	sess.OnToolCall(func(rec session.ToolCallRecord) {
		s.publish(s.transcriptHub, "tool_call", rec)
	})
	sess.OnError(func(err error) {
		s.publish(s.transcriptHub, "session.error", fiber.Map{"error": err.Error()})
	})
}

func (s *Server) publish(h *hub.Hub, typ string, data any) {
	if err := h.Publish(typ, data); err != nil {
		s.logger.Warn("failed to encode event", "type", typ, "error", err)
	}
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hubs and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	go s.crmHub.Run(ctx)
	go s.transcriptHub.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("console listening", "addr", s.addr)
		errc <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops the server and detaches from the store.
func (s *Server) Shutdown() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	return s.app.Shutdown()
}
