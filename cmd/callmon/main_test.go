package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/teslashibe/voiceops/pkg/callaudio"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"clean", nil, "call audio closed normally"},
		{
			"abnormal closure with hint",
			&callaudio.CloseError{Code: 1006, Hint: "call id may be invalid or the session expired"},
			"connection closed (code 1006) - call id may be invalid or the session expired",
		},
		{
			"close without hint",
			&callaudio.CloseError{Code: 1011, Text: "internal error"},
			"connection closed (code 1011): internal error",
		},
		{"close without hint or text", &callaudio.CloseError{Code: 4000}, "connection closed (code 4000)"},
		{
			"wrapped close",
			fmt.Errorf("run: %w", &callaudio.CloseError{Code: 1008, Text: "policy"}),
			"connection closed (code 1008): policy",
		},
		{"stream error", &callaudio.StreamError{Message: "unknown call"}, "call service error: unknown call"},
		{"other", errors.New("dial tcp: refused"), "call audio failed: dial tcp: refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describe(tt.err); got != tt.want {
				t.Errorf("describe() = %q, want %q", got, tt.want)
			}
		})
	}
}
