package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		key      string
		opts     []Option
		wantErr  bool
		wantRate int
	}{
		{name: "missing key", wantErr: true},
		{name: "defaults", key: "el-key", wantRate: 16000},
		{name: "24 kHz", key: "el-key", opts: []Option{WithOutputFormat("pcm_24000")}, wantRate: 24000},
		{name: "mp3 rejected", key: "el-key", opts: []Option{WithOutputFormat("mp3_44100_128")}, wantErr: true},
		{name: "bad rate", key: "el-key", opts: []Option{WithOutputFormat("pcm_fast")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New(tt.key, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := p.Format(); got != (tts.AudioFormat{SampleRate: tt.wantRate, Channels: 1}) {
				t.Errorf("Format = %+v", got)
			}
		})
	}
}

func TestWithVoiceSettings_Clamps(t *testing.T) {
	t.Parallel()
	p, _ := New("el-key", WithVoiceSettings(1.5, -0.2))
	if p.stability != 1 || p.similarity != 0 {
		t.Errorf("settings = %v/%v, want 1/0", p.stability, p.similarity)
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		model    string
		lang     string
		wantLang string
	}{
		{name: "flash gets language", model: "eleven_flash_v2_5", lang: "pt-BR", wantLang: "pt"},
		{name: "no language", model: "eleven_flash_v2_5"},
		{name: "older model", model: "eleven_multilingual_v2", lang: "de-DE"},
		{name: "bad tag", model: "eleven_turbo_v2_5", lang: "???"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, _ := New("el-key", WithModel(tt.model), WithOutputFormat("pcm_22050"))
			u, err := url.Parse(p.streamURL(tts.VoiceProfile{ID: "voice 1", Language: tt.lang}))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if u.Path != "/v1/text-to-speech/voice 1/stream-input" {
				t.Errorf("path = %q", u.Path)
			}
			q := u.Query()
			if q.Get("model_id") != tt.model || q.Get("output_format") != "pcm_22050" {
				t.Errorf("query = %v", q)
			}
			if got := q.Get("language_code"); got != tt.wantLang {
				t.Errorf("language_code = %q, want %q", got, tt.wantLang)
			}
		})
	}
}

// streamServer fakes the stream-input socket. It records every text it
// receives and answers the end of input with pcm and the final marker.
func streamServer(t *testing.T, pcm []byte) (string, <-chan inputMessage) {
	t.Helper()
	got := make(chan inputMessage, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "el-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m inputMessage
			_ = json.Unmarshal(data, &m)
			got <- m
			if m.Text != "" {
				continue
			}
			for _, reply := range []outputMessage{{Audio: base64.StdEncoding.EncodeToString(pcm)}, {IsFinal: true}} {
				b, _ := json.Marshal(reply)
				_ = conn.Write(ctx, websocket.MessageText, b)
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), got
}

func TestSynthesizeStream(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x10, 0x00, 0xf0, 0xff}
	base, got := streamServer(t, pcm)
	p, err := New("el-key", WithEndpoints(base, "http://unused"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 3)
	text <- "Sure,"
	text <- "  "
	text <- "here you go. "
	close(text)
	audio, err := p.SynthesizeStream(ctx, text, tts.VoiceProfile{ID: "rachel", SpeedFactor: 1.2})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var out []byte
	for chunk := range audio {
		out = append(out, chunk...)
	}
	if !slices.Equal(out, pcm) {
		t.Errorf("audio = %v, want %v", out, pcm)
	}

	var msgs []inputMessage
	for len(got) > 0 {
		msgs = append(msgs, <-got)
	}
	var texts []string
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	if want := []string{" ", "Sure, ", "here you go. ", ""}; !slices.Equal(texts, want) {
		t.Errorf("texts = %q, want %q", texts, want)
	}
	if vs := msgs[0].VoiceSettings; vs == nil || vs.Speed != 1.2 || vs.Stability != 0.5 {
		t.Errorf("opening voice settings = %+v", vs)
	}
	if msgs[1].VoiceSettings != nil {
		t.Error("voice settings repeated after the opening message")
	}
}

func TestSynthesizeStream_Errors(t *testing.T) {
	t.Parallel()

	base, _ := streamServer(t, nil)
	if _, err := (&Provider{}).SynthesizeStream(context.Background(), nil, tts.VoiceProfile{}); err == nil {
		t.Error("empty voice ID accepted")
	}
	p, _ := New("wrong-key", WithEndpoints(base, "http://unused"))
	if _, err := p.SynthesizeStream(context.Background(), make(chan string), tts.VoiceProfile{ID: "rachel"}); err == nil {
		t.Error("dial with a rejected key succeeded")
	}
}

func TestSynthesizeStream_CancelClosesAudio(t *testing.T) {
	t.Parallel()

	base, _ := streamServer(t, nil)
	p, _ := New("el-key", WithEndpoints(base, "http://unused"))
	ctx, cancel := context.WithCancel(context.Background())
	audio, err := p.SynthesizeStream(ctx, make(chan string), tts.VoiceProfile{ID: "rachel"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	cancel()
	select {
	case _, ok := <-audio:
		if ok {
			t.Error("unexpected audio after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("audio channel not closed after cancel")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path != "/v1/voices":
			http.NotFound(w, r)
		case r.Header.Get("xi-api-key") != "el-key":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			_, _ = w.Write([]byte(`{"voices":[
				{"voice_id":"21m00","name":"Rachel","category":"premade","labels":{"accent":"american"}},
				{"voice_id":"x9","name":"Custom"}]}`))
		}
	}))
	t.Cleanup(srv.Close)

	p, _ := New("el-key", WithEndpoints("ws://unused", srv.URL+"/"))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("voices = %+v", voices)
	}
	rachel := voices[0]
	if rachel.ID != "21m00" || rachel.Provider != "elevenlabs" || rachel.Metadata["category"] != "premade" || rachel.Metadata["accent"] != "american" {
		t.Errorf("first voice = %+v", rachel)
	}
	if voices[1].Metadata == nil {
		t.Error("voice without labels should get an empty metadata map")
	}

	bad, _ := New("nope", WithEndpoints("ws://unused", srv.URL))
	if _, err := bad.ListVoices(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}
