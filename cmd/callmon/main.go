// callmon listens to the audio of one live call on the local speaker until
// the call ends, then reports why the stream closed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/voiceops/internal/config"
	"github.com/teslashibe/voiceops/internal/log"
	"github.com/teslashibe/voiceops/pkg/audioio"
	"github.com/teslashibe/voiceops/pkg/callaudio"
)

func main() {
	path := flag.String("config", os.Getenv("VOICEOPS_CONFIG"), "Path to a YAML config file")
	callID := flag.String("call", "", "Call id to listen to (required)")
	baseURL := flag.String("url", "", "Call-audio endpoint (overrides call_audio.base_url)")
	backend := flag.String("audio", "", "Audio backend: auto, malgo, mock")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Read(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "callmon:", err)
		os.Exit(2)
	}
	if *baseURL != "" {
		cfg.CallAudio.BaseURL = *baseURL
	}
	if *backend != "" {
		cfg.Audio.Backend = audioio.Backend(*backend)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *callID == "" || cfg.CallAudio.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "usage: callmon -call <id> [-url wss://host/listen/{call_id}]")
		os.Exit(2)
	}

	log.InitWithFormat(cfg.Log.Level, cfg.Log.Format)
	os.Exit(run(cfg, *callID))
}

func run(cfg config.Config, callID string) int {
	out, err := audioio.NewOutput(cfg.Output(), log.L())
	if err != nil {
		log.Error("audio output unavailable", "error", err)
		return 1
	}
	defer out.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	l := callaudio.NewListener(cfg.CallAudioConfig(), out, callaudio.WithLogger(log.L()))
	log.Info("listening", "call_id", callID)
	err = l.Run(ctx, callID)

	stats := l.Stats()
	log.Info("call audio stopped",
		"frames_played", stats.FramesPlayed,
		"frames_dropped", stats.FramesDropped,
		"bytes", stats.BytesReceived,
	)

	fmt.Println(describe(err))
	if err != nil {
		return 1
	}
	return 0
}

// describe turns the result of a listening run into the line printed for the
// user.
func describe(err error) string {
	var closeErr *callaudio.CloseError
	var streamErr *callaudio.StreamError
	switch {
	case err == nil:
		return "call audio closed normally"
	case errors.As(err, &closeErr):
		msg := fmt.Sprintf("connection closed (code %d)", closeErr.Code)
		if closeErr.Text != "" {
			msg += ": " + closeErr.Text
		}
		if closeErr.Hint != "" {
			msg += " - " + closeErr.Hint
		}
		return msg
	case errors.As(err, &streamErr):
		return "call service error: " + streamErr.Message
	default:
		return fmt.Sprintf("call audio failed: %v", err)
	}
}
