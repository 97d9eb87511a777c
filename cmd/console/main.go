// voiceops console: live voice session engine with an operations console
// for the booking desk.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/voiceops/internal/config"
	"github.com/teslashibe/voiceops/internal/log"
	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/console"
	"github.com/teslashibe/voiceops/pkg/voice"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	log.InitWithFormat(cfg.Log.Level, cfg.Log.Format)

	app, err := console.New(cfg, console.WithLogger(log.L()))
	if err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads the config file named by -config and applies flag
// overrides on top of it.
func parseFlags() (config.Config, error) {
	path := flag.String("config", os.Getenv("VOICEOPS_CONFIG"), "Path to a YAML config file")
	addr := flag.String("addr", "", "Console listen address (overrides server.addr)")
	provider := flag.String("provider", "", "Model provider: gemini, openai")
	backend := flag.String("audio", "", "Audio backend: auto, malgo, mock")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: json, text")
	noSeed := flag.Bool("no-seed", false, "Start with an empty booking store")
	flag.Parse()

	cfg, err := config.Read(*path)
	if err != nil {
		return cfg, err
	}

	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *provider != "" {
		cfg.SetProvider(voice.Provider(*provider))
	}
	if *backend != "" {
		cfg.Audio.Backend = audioio.Backend(*backend)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *noSeed {
		cfg.CRM.Seed = false
	}

	return cfg, cfg.Validate()
}
