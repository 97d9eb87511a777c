// Package voice defines the transport between a live voice session and a
// remote conversational model.
//
// A Dialer opens a Transport for one session. Outbound traffic is raw PCM16
// microphone audio and batched tool results; inbound traffic arrives as
// Message values on a channel, already demultiplexed into audio, tool calls,
// transcript deltas and turn signals. Base64 and provider JSON never leave
// the transport implementation.
//
// # Providers
//
// The bundled subpackage registers Gemini Live and OpenAI Realtime
// implementations:
//
//	import _ "github.com/teslashibe/voiceops/pkg/voice/bundled"
//
//	dialer, err := voice.NewDialer(voice.Config{
//	    Provider: voice.ProviderGemini,
//	    APIKey:   os.Getenv("GOOGLE_API_KEY"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	t, err := dialer.Dial(ctx, voice.SessionConfig{
//	    SystemInstruction: "You are a booking assistant.",
//	    Tools:             dispatcher.Schemas(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Close()
//
//	for msg := range t.Messages() {
//	    // audio, tool calls, transcripts
//	}
//
// # Testing
//
// MockDialer and MockTransport let tests inject inbound messages and inspect
// what a session sent without a network.
package voice
