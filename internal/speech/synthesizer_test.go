package speech_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/player"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

// sink records frames written by a player.
type sink struct {
	mu     sync.Mutex
	frames []audio.AudioFrame
}

func (s *sink) write(f audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func newSynthesizer(t *testing.T, p *ttsmock.Provider, opts ...speech.SynthesizerOption) (*speech.Synthesizer, *player.Player, *sink) {
	t.Helper()
	out := &sink{}
	pl := player.New(out.write, player.WithLead(time.Hour))
	t.Cleanup(func() { _ = pl.Close() })
	voiceProfile := tts.VoiceProfile{ID: "v1", Name: "Ada", Language: "en-US"}
	return speech.NewSynthesizer(p, pl, voiceProfile, opts...), pl, out
}

func pcm(samples int) []byte { return make([]byte, samples*2) }

func TestSynthesizer_SpeaksAndCompletes(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{pcm(160), pcm(160)}}
	syn, _, out := newSynthesizer(t, p)
	evs := newEvents()

	err := syn.Speak(context.Background(), voice.Utterance{ID: "u1", Text: "Bonjour", Language: "fr-FR"}, evs.emit)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	ev := evs.next(t)
	if ev.Kind != voice.EventUtteranceCompleted || ev.UtteranceID != "u1" {
		t.Fatalf("event = %v %q, want completion of u1", ev.Kind, ev.UtteranceID)
	}
	if ev.Err != nil {
		t.Fatalf("completion err = %v", ev.Err)
	}
	if n := out.count(); n != 2 {
		t.Errorf("frames played = %d, want 2", n)
	}

	if got := p.ReceivedTexts(); len(got) != 1 || got[0] != "Bonjour" {
		t.Errorf("texts = %v, want [Bonjour]", got)
	}
	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("SynthesizeStream calls = %d, want 1", len(calls))
	}
	if calls[0].Voice.ID != "v1" || calls[0].Voice.Language != "fr-FR" {
		t.Errorf("voice = %+v, want v1 speaking fr-FR", calls[0].Voice)
	}
}

func TestSynthesizer_EmptyText(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{}
	syn, _, _ := newSynthesizer(t, p)

	for _, text := range []string{"", "   ", "\n\t"} {
		err := syn.Speak(context.Background(), voice.Utterance{ID: "u", Text: text}, func(voice.Event) {
			t.Error("emit called for empty text")
		})
		if !errors.Is(err, voice.ErrEmptyText) {
			t.Errorf("Speak(%q) err = %v, want ErrEmptyText", text, err)
		}
	}
	if n := p.CallCount(); n != 0 {
		t.Errorf("SynthesizeStream calls = %d, want 0", n)
	}
}

func TestSynthesizer_Failures(t *testing.T) {
	t.Parallel()

	synthErr := errors.New("quota exceeded")
	tests := []struct {
		name    string
		p       *ttsmock.Provider
		wantErr error
	}{
		{
			name:    "provider refuses",
			p:       &ttsmock.Provider{SynthesizeErr: synthErr},
			wantErr: synthErr,
		},
		{
			name:    "no audio",
			p:       &ttsmock.Provider{},
			wantErr: speech.ErrNoAudio,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			syn, _, _ := newSynthesizer(t, tt.p)
			evs := newEvents()
			if err := syn.Speak(context.Background(), voice.Utterance{ID: "u1", Text: "hi"}, evs.emit); err != nil {
				t.Fatalf("Speak: %v", err)
			}
			ev := evs.next(t)
			if ev.Kind != voice.EventUtteranceCompleted || ev.UtteranceID != "u1" {
				t.Fatalf("event = %v %q, want completion of u1", ev.Kind, ev.UtteranceID)
			}
			if !errors.Is(ev.Err, tt.wantErr) {
				t.Errorf("completion err = %v, want %v", ev.Err, tt.wantErr)
			}
		})
	}
}

func TestSynthesizer_Cancel(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{pcm(160)}, Hold: hold}
	syn, _, out := newSynthesizer(t, p)
	evs := newEvents()

	if err := syn.Speak(context.Background(), voice.Utterance{ID: "u1", Text: "long story"}, evs.emit); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	eventually(t, func() bool { return p.CallCount() == 1 })

	syn.Cancel()

	ev := evs.next(t)
	if !errors.Is(ev.Err, player.ErrInterrupted) {
		t.Fatalf("completion err = %v, want ErrInterrupted", ev.Err)
	}
	close(hold)
	time.Sleep(20 * time.Millisecond)
	if n := out.count(); n != 0 {
		t.Errorf("frames played after cancel = %d, want 0", n)
	}
}

func TestSynthesizer_PauseResume(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{pcm(160), pcm(160)}, Hold: hold}
	syn, pl, out := newSynthesizer(t, p)
	evs := newEvents()

	if err := syn.Speak(context.Background(), voice.Utterance{ID: "u1", Text: "hello"}, evs.emit); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	eventually(t, func() bool {
		syn.Pause()
		return pl.Paused()
	})

	close(hold)
	evs.none(t, 30*time.Millisecond)
	if n := out.count(); n != 0 {
		t.Fatalf("frames played while paused = %d, want 0", n)
	}

	syn.Resume()
	ev := evs.next(t)
	if ev.Kind != voice.EventUtteranceCompleted || ev.Err != nil {
		t.Fatalf("event = %v err=%v, want clean completion", ev.Kind, ev.Err)
	}
	if n := out.count(); n != 2 {
		t.Errorf("frames played = %d, want 2", n)
	}
}

func TestSynthesizer_RecordsUtteranceOutcome(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{pcm(160)}}
	syn, _, _ := newSynthesizer(t, p, speech.WithSynthesizerMetrics(m), speech.WithSynthesizerName("mock"))
	evs := newEvents()
	if err := syn.Speak(context.Background(), voice.Utterance{ID: "u1", Text: "hi"}, evs.emit); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	evs.next(t)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "parley.utterances" {
				continue
			}
			sum := met.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("outcome"); ok && v.AsString() == "completed" && dp.Value == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("parley.utterances{outcome=completed} not recorded")
	}
}

func TestSynthesizer_ListVoices(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "a"}, {ID: "b"}}}
	syn, _, _ := newSynthesizer(t, p)

	voices, err := syn.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Errorf("voices = %d, want 2", len(voices))
	}
}
