// Package mock is a scriptable [tts.Provider] for tests. Each stream reads
// all of its text before it emits SynthesizeChunks.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// SynthesizeCall is one recorded SynthesizeStream invocation.
type SynthesizeCall struct {
	Ctx   context.Context
	Voice tts.VoiceProfile
}

// Provider is a fake text-to-speech backend. Configure it before use.
type Provider struct {
	// SynthesizeChunks is the audio every stream emits.
	SynthesizeChunks [][]byte
	// SynthesizeErr makes SynthesizeStream fail to start.
	SynthesizeErr error
	// Hold, when set, delays the audio until it is closed.
	Hold chan struct{}

	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	// AudioFormat is reported by Format; zero means 16 kHz mono.
	AudioFormat tts.AudioFormat

	mu    sync.Mutex
	calls []SynthesizeCall
	texts []string
}

var _ tts.Provider = (*Provider)(nil)

func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Ctx: ctx, Voice: voice})
	p.mu.Unlock()
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}

	out := make(chan []byte, len(p.SynthesizeChunks))
	go func() {
		defer close(out)
		for frag := range text {
			p.mu.Lock()
			p.texts = append(p.texts, frag)
			p.mu.Unlock()
		}
		if p.Hold != nil {
			select {
			case <-p.Hold:
			case <-ctx.Done():
				return
			}
		}
		for _, chunk := range p.SynthesizeChunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	return p.ListVoicesResult, p.ListVoicesErr
}

func (p *Provider) Format() tts.AudioFormat {
	if p.AudioFormat.SampleRate == 0 {
		return tts.AudioFormat{SampleRate: 16000, Channels: 1}
	}
	return p.AudioFormat
}

// Calls returns the SynthesizeStream invocations so far.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// CallCount is len(Calls()).
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// ReceivedTexts returns every text fragment read so far, across streams.
func (p *Provider) ReceivedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.texts)
}
