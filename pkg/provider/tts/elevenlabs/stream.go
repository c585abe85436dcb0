package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Client messages on the stream-input socket. The first message carries the
// voice settings and must have non-empty text; an empty text ends input.
type (
	voiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
		Speed           float64 `json:"speed,omitempty"`
	}
	inputMessage struct {
		Text          string         `json:"text"`
		VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	}
)

// outputMessage is a server message: a chunk of base64 PCM, the final
// marker, or an error.
type outputMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

var endOfInput = inputMessage{Text: ""}

// SynthesizeStream implements [tts.Provider]. Text fragments are forwarded
// as they arrive; audio chunks are emitted as ElevenLabs produces them.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}
	conn, _, err := websocket.Dial(ctx, p.streamURL(voice), &websocket.DialOptions{
		HTTPHeader: http.Header{"xi-api-key": {p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	open := inputMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: p.stability, SimilarityBoost: p.similarity, Speed: voice.SpeedFactor},
	}
	if err := writeJSON(ctx, conn, open); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("elevenlabs: open stream: %w", err)
	}

	audio := make(chan []byte, 256)
	go func() {
		defer close(audio)
		defer conn.Close(websocket.StatusNormalClosure, "")

		received := make(chan struct{})
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer close(received)
			return receiveAudio(gctx, conn, audio)
		})
		g.Go(func() error { return forwardText(gctx, conn, text, received) })
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			slog.Warn("elevenlabs: synthesis ended early", "voice", voice.ID, "err", err)
		}
	}()
	return audio, nil
}

// forwardText sends fragments until text closes, then signals end of input.
// It stops early once the receiver is done.
func forwardText(ctx context.Context, conn *websocket.Conn, text <-chan string, received <-chan struct{}) error {
	for {
		select {
		case frag, ok := <-text:
			if !ok {
				return writeJSON(ctx, conn, endOfInput)
			}
			if strings.TrimSpace(frag) == "" {
				continue
			}
			// Text is only synthesised up to the last space it has seen.
			if !strings.HasSuffix(frag, " ") {
				frag += " "
			}
			if err := writeJSON(ctx, conn, inputMessage{Text: frag}); err != nil {
				return fmt.Errorf("send text: %w", err)
			}
		case <-received:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// receiveAudio decodes audio messages into out until the final marker.
func receiveAudio(ctx context.Context, conn *websocket.Conn, out chan<- []byte) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		var msg outputMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("%s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return fmt.Errorf("decode audio: %w", err)
			}
			select {
			case out <- pcm:
			case <-ctx.Done():
				return nil
			}
		}
		if msg.IsFinal {
			return nil
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// streamURL addresses the stream-input socket for voice. The multilingual
// v2.5 models also get the ISO 639-1 code of the voice language.
func (p *Provider) streamURL(voice tts.VoiceProfile) string {
	q := url.Values{"model_id": {p.model}, "output_format": {p.format}}
	if code := baseLanguage(voice.Language); code != "" && strings.Contains(p.model, "v2_5") {
		q.Set("language_code", code)
	}
	return p.streamBase + "/v1/text-to-speech/" + url.PathEscape(voice.ID) + "/stream-input?" + q.Encode()
}

// baseLanguage returns the base language of a BCP-47 tag, or "" when the tag
// is empty or unparsable.
func baseLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	if base, conf := t.Base(); conf != language.No {
		return base.String()
	}
	return ""
}
