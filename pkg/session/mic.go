package session

import (
	"context"

	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/capture"
)

// Microphone is an open capture pipeline. *capture.Pipeline implements it.
type Microphone interface {
	Frames() <-chan []byte
	Pause()
	Resume()
	Paused() bool
	Close() error
}

// MicOpener opens a microphone that lives until ctx ends or it is closed.
type MicOpener func(ctx context.Context) (Microphone, error)

// DeviceMic opens the configured input device for each session.
func DeviceMic(audioCfg audioio.Config, cfg capture.Config, opts ...capture.Option) MicOpener {
	return func(ctx context.Context) (Microphone, error) {
		p, err := capture.OpenDevice(ctx, audioCfg, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// SourceMic opens a pipeline over sources produced by newSource.
func SourceMic(newSource func() (audioio.Source, error), cfg capture.Config, opts ...capture.Option) MicOpener {
	return func(ctx context.Context) (Microphone, error) {
		src, err := newSource()
		if err != nil {
			return nil, err
		}
		p, err := capture.Open(ctx, src, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var _ Microphone = (*capture.Pipeline)(nil)
