package tools

import "encoding/json"

// Result is the envelope every tool returns: {"ok":true,"data":...} on
// success or {"ok":false,"error":"..."} on failure.
type Result struct {
	OK    bool
	Data  any
	Error string
}

// Success wraps data in a successful envelope.
func Success(data any) Result {
	return Result{OK: true, Data: data}
}

// Failure wraps a message in a failed envelope.
func Failure(msg string) Result {
	return Result{OK: false, Error: msg}
}

// MarshalJSON emits exactly one of data or error.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.OK {
		return json.Marshal(struct {
			OK   bool `json:"ok"`
			Data any  `json:"data"`
		}{true, r.Data})
	}
	return json.Marshal(struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}{false, r.Error})
}

// UnmarshalJSON accepts either envelope shape.
func (r *Result) UnmarshalJSON(b []byte) error {
	var raw struct {
		OK    bool            `json:"ok"`
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.OK = raw.OK
	r.Error = raw.Error
	r.Data = nil
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		var data any
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return err
		}
		r.Data = data
	}
	return nil
}

// Map returns the envelope as a generic map, the shape transports embed in
// function responses.
func (r Result) Map() map[string]any {
	if r.OK {
		return map[string]any{"ok": true, "data": r.Data}
	}
	return map[string]any{"ok": false, "error": r.Error}
}
