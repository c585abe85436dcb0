// Package elevenlabs speaks assistant replies through the ElevenLabs
// input-streaming WebSocket API and lists the account's voices over REST.
// Only raw PCM output formats are supported so audio can be played without
// decoding.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	defaultStreamBase = "wss://api.elevenlabs.io"
	defaultAPIBase    = "https://api.elevenlabs.io"
	defaultModel      = "eleven_flash_v2_5"
	defaultFormat     = "pcm_16000"
)

// ErrUnauthorized is returned by ListVoices when the API key is rejected.
var ErrUnauthorized = errors.New("elevenlabs: api key rejected")

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the synthesis model, for example "eleven_flash_v2_5".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat selects a "pcm_<rate>" output format such as "pcm_24000".
// New rejects compressed formats.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// WithEndpoints replaces the WebSocket and REST base URLs.
func WithEndpoints(streamBase, apiBase string) Option {
	return func(p *Provider) {
		p.streamBase = strings.TrimSuffix(streamBase, "/")
		p.apiBase = strings.TrimSuffix(apiBase, "/")
	}
}

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithVoiceSettings overrides the stability and similarity boost sent at the
// start of each stream. Values are clamped to [0, 1].
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) {
		p.stability = clamp01(stability)
		p.similarity = clamp01(similarity)
	}
}

func clamp01(v float64) float64 { return min(max(v, 0), 1) }

// Provider implements [tts.Provider] with ElevenLabs.
type Provider struct {
	apiKey     string
	model      string
	format     string
	rate       int
	stability  float64
	similarity float64
	streamBase string
	apiBase    string
	client     *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		format:     defaultFormat,
		stability:  0.5,
		similarity: 0.75,
		streamBase: defaultStreamBase,
		apiBase:    defaultAPIBase,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := pcmRate(p.format)
	if err != nil {
		return nil, err
	}
	p.rate = rate
	return p, nil
}

// Format implements [tts.Provider]. Output is always mono.
func (p *Provider) Format() tts.AudioFormat {
	return tts.AudioFormat{SampleRate: p.rate, Channels: 1}
}

// pcmRate reads the sample rate out of a "pcm_<rate>" format name.
func pcmRate(format string) (int, error) {
	digits, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM", format)
	}
	rate, err := strconv.Atoi(digits)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: output format %q has no valid sample rate", format)
	}
	return rate, nil
}

type voiceList struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

func (l voiceList) profiles() []tts.VoiceProfile {
	out := make([]tts.VoiceProfile, 0, len(l.Voices))
	for _, v := range l.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, tts.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return out
}

// ListVoices implements [tts.Provider] with GET /v1/voices.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("elevenlabs: list voices: %s", resp.Status)
	}

	var list voiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}
	return list.profiles(), nil
}
