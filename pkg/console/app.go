// Package console assembles the voice engine and the operations console
// from configuration and manages their lifecycle.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/voiceops/internal/config"
	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/callaudio"
	"github.com/teslashibe/voiceops/pkg/capture"
	"github.com/teslashibe/voiceops/pkg/crm"
	"github.com/teslashibe/voiceops/pkg/playback"
	"github.com/teslashibe/voiceops/pkg/session"
	"github.com/teslashibe/voiceops/pkg/telemetry"
	"github.com/teslashibe/voiceops/pkg/tools"
	"github.com/teslashibe/voiceops/pkg/voice"
	_ "github.com/teslashibe/voiceops/pkg/voice/bundled" // Register voice providers
	"github.com/teslashibe/voiceops/pkg/web"
)

// App owns every engine component and the console server.
type App struct {
	config config.Config
	logger *slog.Logger

	metrics *telemetry.Metrics
	store   *crm.Store
	tools   *tools.Dispatcher
	output  audioio.Output
	player  *playback.Scheduler
	session *session.Session
	calls   *callaudio.Monitor
	server  *web.Server

	unsnapshot   func()
	shutdownOnce sync.Once
}

// Option configures an App.
type Option func(*options)

type options struct {
	logger *slog.Logger
	dialer voice.Dialer
	mic    session.MicOpener
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDialer replaces the provider dialer built from configuration.
func WithDialer(d voice.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithMic replaces the device microphone.
func WithMic(m session.MicOpener) Option {
	return func(o *options) { o.mic = m }
}

// New builds the engine. Nothing is started until Run.
func New(cfg config.Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		config:  cfg,
		logger:  o.logger.With("component", "console"),
		metrics: telemetry.NewMetrics("voiceops"),
	}

	storeOpts := []crm.StoreOption{crm.WithLogger(o.logger)}
	switch {
	case !cfg.CRM.Seed:
		storeOpts = append(storeOpts, crm.WithSeed(nil))
	case cfg.CRM.SeedFile != "":
		seed, err := crm.Load(cfg.CRM.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("crm seed: %w", err)
		}
		storeOpts = append(storeOpts, crm.WithSeed(seed))
	}
	a.store = crm.NewStore(storeOpts...)

	if cfg.CRM.SnapshotPath != "" {
		snap, err := crm.NewSnapshotter(cfg.CRM.SnapshotPath, o.logger)
		if err != nil {
			return nil, fmt.Errorf("crm snapshot: %w", err)
		}
		if a.unsnapshot, err = snap.Attach(a.store); err != nil {
			return nil, fmt.Errorf("crm snapshot: %w", err)
		}
	}

	a.tools = tools.NewDispatcher(a.store, tools.WithLogger(o.logger), tools.WithMetrics(a.metrics))

	dialer := o.dialer
	if dialer == nil {
		var err error
		if dialer, err = voice.NewDialer(cfg.Voice()); err != nil {
			a.close()
			return nil, fmt.Errorf("voice dialer: %w", err)
		}
	}

	out, err := audioio.NewOutput(cfg.Output(), o.logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("audio output: %w", err)
	}
	a.output = out
	a.player = playback.New(out, playback.WithLogger(o.logger), playback.WithMetrics(a.metrics, "model"))

	mic := o.mic
	if mic == nil {
		mic = session.DeviceMic(cfg.Input(), cfg.Capture(),
			capture.WithLogger(o.logger), capture.WithMetrics(a.metrics))
	}

	a.session, err = session.New(session.Deps{
		Dialer: dialer,
		Mic:    mic,
		Player: a.player,
		Tools:  a.tools,
	}, session.Config{
		Model:            cfg.Model.Model,
		InputSampleRate:  cfg.Audio.InputRate,
		OutputSampleRate: cfg.Audio.OutputRate,
	}, session.WithLogger(o.logger), session.WithMetrics(a.metrics))
	if err != nil {
		a.close()
		return nil, err
	}

	// Call audio shares the speaker with the model but has its own scheduler.
	a.calls = callaudio.NewMonitor(cfg.CallAudioConfig(), out, callaudio.WithLogger(o.logger), callaudio.WithMetrics(a.metrics))

	a.server, err = web.NewServer(cfg.Server.Addr, web.Deps{
		Session: a.session,
		Store:   a.store,
		Tools:   a.tools,
		Calls:   a.calls,
		Metrics: a.metrics,
		Defaults: session.StartOptions{
			SystemInstruction: cfg.Model.SystemInstruction,
			VoiceID:           cfg.Model.Voice,
		},
	}, o.logger)
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

// Run serves the console until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("voiceops console starting",
		"addr", a.config.Server.Addr,
		"provider", a.config.Model.Provider,
		"audio", a.output.Name(),
		"bookings", a.store.Len(),
	)

	err := a.server.Run(ctx)
	a.Shutdown()
	return err
}

// Shutdown ends any live session, stops call listeners and releases the
// audio device. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.session.End()
		a.calls.StopAll()
		if err := a.server.Shutdown(); err != nil {
			a.logger.Warn("console shutdown", "error", err)
		}
		a.close()
		a.logger.Info("voiceops console stopped")
	})
}

func (a *App) close() {
	if a.unsnapshot != nil {
		a.unsnapshot()
		a.unsnapshot = nil
	}
	if a.output != nil {
		if err := a.output.Close(); err != nil {
			a.logger.Warn("audio output close", "error", err)
		}
		a.output = nil
	}
}

// Session returns the live voice session.
func (a *App) Session() *session.Session { return a.session }

// Store returns the booking store.
func (a *App) Store() *crm.Store { return a.store }

// Server returns the console server.
func (a *App) Server() *web.Server { return a.server }
