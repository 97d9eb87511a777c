// Package tools exposes CRM operations to the voice model as named tools.
//
// Every call returns a Result envelope. Bad arguments, missing records and
// handler panics all become {"ok":false,"error":...}; Dispatch never fails
// in a way the caller has to handle.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/voiceops/pkg/crm"
	"github.com/teslashibe/voiceops/pkg/telemetry"
)

// Tool names.
const (
	ToolGetByPNR     = "crm_get_booking_by_pnr"
	ToolSearch       = "crm_search_bookings"
	ToolCreate       = "crm_create_booking"
	ToolUpdate       = "crm_update_booking"
	ToolDelete       = "crm_delete_booking"
	ToolUpdateStatus = "crm_update_booking_status"
	ToolAddNote      = "crm_add_booking_note"
	ToolListRecent   = "crm_list_recent_bookings"
)

type handler func(args map[string]any) (any, error)

// Dispatcher routes tool calls to CRM operations.
type Dispatcher struct {
	store    *crm.Store
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	handlers map[string]handler
	schemas  []Schema
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics counts calls by tool and outcome.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a dispatcher over store.
func NewDispatcher(store *crm.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		logger:  slog.Default(),
		schemas: schemas(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "tools")

	d.handlers = map[string]handler{
		ToolGetByPNR:     d.getByPNR,
		ToolSearch:       d.search,
		ToolCreate:       d.create,
		ToolUpdate:       d.update,
		ToolDelete:       d.delete,
		ToolUpdateStatus: d.updateStatus,
		ToolAddNote:      d.addNote,
		ToolListRecent:   d.listRecent,
	}
	return d
}

// Schemas returns the tool declarations to send to the model.
func (d *Dispatcher) Schemas() []Schema {
	out := make([]Schema, len(d.schemas))
	copy(out, d.schemas)
	return out
}

// Has reports whether name is a registered tool.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.handlers[name]
	return ok
}

// Dispatch runs the named tool.
func (d *Dispatcher) Dispatch(name string, args map[string]any) (res Result) {
	h, ok := d.handlers[name]
	if !ok {
		d.logger.Warn("unknown tool", "tool", name)
		d.metrics.RecordToolCall("unknown", false)
		return Failure("Unknown tool: " + name)
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", "tool", name, "panic", r)
			res = Failure(fmt.Sprintf("internal error in %s", name))
		}
		d.metrics.RecordToolCall(name, res.OK)
	}()

	data, err := h(args)
	if err != nil {
		d.logger.Info("tool call failed", "tool", name, "error", err)
		return Failure(err.Error())
	}
	d.logger.Debug("tool call succeeded", "tool", name)
	return Success(data)
}

// DispatchJSON runs the named tool with JSON-encoded arguments.
func (d *Dispatcher) DispatchJSON(name string, raw []byte) Result {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return Failure(fmt.Sprintf("invalid arguments: %v", err))
		}
	}
	return d.Dispatch(name, args)
}

func (d *Dispatcher) getByPNR(args map[string]any) (any, error) {
	var a PNRArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	b, err := d.store.Get(a.PNR)
	if errors.Is(err, crm.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (d *Dispatcher) search(args map[string]any) (any, error) {
	var a SearchArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return Search(d.store.List(), a), nil
}

func (d *Dispatcher) create(args map[string]any) (any, error) {
	var a CreateArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.store.Add(a.Booking())
}

func (d *Dispatcher) update(args map[string]any) (any, error) {
	var a UpdateArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.store.Update(a.PNR, a.Updates)
}

func (d *Dispatcher) delete(args map[string]any) (any, error) {
	var a PNRArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	deleted := d.store.Delete(a.PNR)
	return map[string]any{"pnr": a.PNR, "deleted": deleted}, nil
}

func (d *Dispatcher) updateStatus(args map[string]any) (any, error) {
	var a StatusArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	status, _ := crm.ParseStatus(a.Status)
	return d.store.Update(a.PNR, crm.Patch{Status: &status})
}

func (d *Dispatcher) addNote(args map[string]any) (any, error) {
	var a NoteArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return d.store.AddNote(a.PNR, crm.Note{Text: a.Text, By: a.By})
}

func (d *Dispatcher) listRecent(args map[string]any) (any, error) {
	var a ListArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	bookings := d.store.List()
	crm.SortByFlightDateDesc(bookings)
	if limit := clampLimit(a.Limit); len(bookings) > limit {
		bookings = bookings[:limit]
	}
	return bookings, nil
}
