package web

import (
	"errors"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/voiceops/pkg/callaudio"
	"github.com/teslashibe/voiceops/pkg/crm"
	"github.com/teslashibe/voiceops/pkg/hub"
	"github.com/teslashibe/voiceops/pkg/session"
	"github.com/teslashibe/voiceops/pkg/tools"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(errorBody{Error: err.Error()})
}

func fail(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(errorBody{Error: err.Error()})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"session": s.deps.Session.Phase(),
	})
}

// handleListBookings returns bookings newest flight first. Query parameters
// are search filters with the same names as the search tool's arguments.
func (s *Server) handleListBookings(c *fiber.Ctx) error {
	args := tools.SearchArgs{
		PassengerName: c.Query("passenger_name"),
		Email:         c.Query("email"),
		PhoneNumber:   c.Query("phone_number"),
		Origin:        c.Query("origin"),
		Destination:   c.Query("destination"),
		FlightNumber:  c.Query("flight_number"),
		Status:        c.Query("status"),
		DateFrom:      c.Query("date_from"),
		DateTo:        c.Query("date_to"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, errors.New("limit must be an integer"))
		}
		args.Limit = &n
	}
	if args == (tools.SearchArgs{}) {
		bookings := s.deps.Store.List()
		crm.SortByFlightDateDesc(bookings)
		return c.JSON(bookings)
	}
	if err := args.Validate(); err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	return c.JSON(tools.Search(s.deps.Store.List(), args))
}

func (s *Server) handleGetBooking(c *fiber.Ctx) error {
	b, err := s.deps.Store.Get(c.Params("pnr"))
	if errors.Is(err, crm.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, err)
	}
	if err != nil {
		return err
	}
	return c.JSON(b)
}

func (s *Server) handleListTools(c *fiber.Ctx) error {
	return c.JSON(s.deps.Tools.Schemas())
}

// DispatchRequest is the body of a manual tool call.
type DispatchRequest struct {
	Args map[string]any `json:"args"`
}

// handleDispatchTool runs a tool by hand and returns its envelope.
func (s *Server) handleDispatchTool(c *fiber.Ctx) error {
	name := c.Params("name")

	var req DispatchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, err)
		}
	}

	res := s.deps.Tools.Dispatch(name, req.Args)
	status := fiber.StatusOK
	switch {
	case !s.deps.Tools.Has(name):
		status = fiber.StatusNotFound
	case !res.OK:
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(res)
}

func (s *Server) handleSessionState(c *fiber.Ctx) error {
	return c.JSON(s.deps.Session.State())
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	return c.JSON(s.deps.Session.TranscriptView())
}

// StartRequest is the body of POST /api/session/start.
type StartRequest struct {
	SystemInstruction string `json:"system_instruction"`
	VoiceID           string `json:"voice_id"`

	// Tools restricts the session to the named tools. Empty means all.
	Tools []string `json:"tools"`
}

func (s *Server) handleSessionStart(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, err)
		}
	}

	opts := s.deps.Defaults
	if req.SystemInstruction != "" {
		opts.SystemInstruction = req.SystemInstruction
	}
	if req.VoiceID != "" {
		opts.VoiceID = req.VoiceID
	}
	if len(req.Tools) > 0 {
		selected, err := s.selectTools(req.Tools)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, err)
		}
		opts.Tools = selected
	}

	err := s.deps.Session.Start(c.UserContext(), opts)
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(s.deps.Session.State())
	case errors.Is(err, session.ErrAlreadyStarted), errors.Is(err, session.ErrSessionClosed):
		return fail(c, fiber.StatusConflict, err)
	case session.IsDeviceError(err):
		return fail(c, fiber.StatusServiceUnavailable, err)
	case session.IsTransportError(err):
		return fail(c, fiber.StatusBadGateway, err)
	default:
		return err
	}
}

func (s *Server) selectTools(names []string) ([]tools.Schema, error) {
	byName := make(map[string]tools.Schema)
	for _, schema := range s.deps.Tools.Schemas() {
		byName[schema.Name] = schema
	}
	out := make([]tools.Schema, 0, len(names))
	for _, name := range names {
		schema, ok := byName[name]
		if !ok {
			return nil, errors.New("unknown tool: " + name)
		}
		out = append(out, schema)
	}
	return out, nil
}

func (s *Server) handleSessionEnd(c *fiber.Ctx) error {
	if err := s.deps.Session.End(); err != nil {
		return err
	}
	return c.JSON(s.deps.Session.State())
}

func (s *Server) handleMicPause(c *fiber.Ctx) error {
	if err := s.deps.Session.PauseMic(); err != nil {
		return fail(c, fiber.StatusConflict, err)
	}
	return c.JSON(s.deps.Session.State())
}

func (s *Server) handleMicResume(c *fiber.Ctx) error {
	if err := s.deps.Session.ResumeMic(); err != nil {
		return fail(c, fiber.StatusConflict, err)
	}
	return c.JSON(s.deps.Session.State())
}

func (s *Server) handleListCalls(c *fiber.Ctx) error {
	return c.JSON(s.deps.Calls.Status())
}

func (s *Server) handleListen(c *fiber.Ctx) error {
	id := c.Params("id")
	err := s.deps.Calls.Listen(c.UserContext(), id)
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call_id": id, "listening": true})
	case errors.Is(err, callaudio.ErrAlreadyListening), errors.Is(err, callaudio.ErrStopped):
		return fail(c, fiber.StatusConflict, err)
	case errors.Is(err, callaudio.ErrMissingCallID):
		return fail(c, fiber.StatusBadRequest, err)
	default:
		return fail(c, fiber.StatusBadGateway, err)
	}
}

func (s *Server) handleStopListening(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.deps.Calls.Stop(id); err != nil {
		if errors.Is(err, callaudio.ErrNotListening) {
			return fail(c, fiber.StatusNotFound, err)
		}
		return err
	}
	return c.JSON(fiber.Map{"call_id": id, "listening": false})
}

// handleCRMWS sends the current bookings, then every change.
func (s *Server) handleCRMWS(c *websocket.Conn) {
	bookings := s.deps.Store.List()
	crm.SortByFlightDateDesc(bookings)
	greeting, err := hub.NewEvent("crm.snapshot", bookings)
	if err != nil {
		s.logger.Warn("failed to encode crm snapshot", "error", err)
		return
	}
	hub.NewClient(s.crmHub, c, greeting).Run()
}

// handleTranscriptWS sends the session state and transcript, then live events.
func (s *Server) handleTranscriptWS(c *websocket.Conn) {
	state, err := hub.NewEvent("session.state", s.deps.Session.State())
	if err != nil {
		s.logger.Warn("failed to encode session state", "error", err)
		return
	}
	view, err := hub.NewEvent("transcript.view", s.deps.Session.TranscriptView())
	if err != nil {
		s.logger.Warn("failed to encode transcript", "error", err)
		return
	}
	hub.NewClient(s.transcriptHub, c, state, view).Run()
}
