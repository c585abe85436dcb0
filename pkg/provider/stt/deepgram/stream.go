package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	// Deepgram drops a listen socket after about ten seconds without data.
	keepAliveEvery = 5 * time.Second

	// flushTimeout bounds how long Close waits for the last results.
	flushTimeout = 3 * time.Second
)

var (
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
)

// stream is one open listen socket. It implements [stt.SessionHandle].
type stream struct {
	conn     *websocket.Conn
	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	closing   chan struct{}
	closeOnce sync.Once
	abort     context.CancelFunc
	group     *errgroup.Group

	mu  sync.Mutex
	err error
}

func startStream(parent context.Context, conn *websocket.Conn) *stream {
	ctx, abort := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	s := &stream{
		conn:     conn,
		audio:    make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		closing:  make(chan struct{}),
		abort:    abort,
		group:    g,
	}
	g.Go(func() error { return s.send(gctx) })
	g.Go(func() error { return s.receive(gctx) })
	return s
}

func (s *stream) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.closing:
		return stt.ErrSessionClosed
	}
}

func (s *stream) Partials() <-chan stt.Transcript { return s.partials }
func (s *stream) Finals() <-chan stt.Transcript   { return s.finals }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close flushes queued audio, waits up to flushTimeout for Deepgram's last
// results and closes the socket.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		deadline := time.AfterFunc(flushTimeout, s.abort)
		_ = s.group.Wait()
		deadline.Stop()
		s.abort()
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

// setErr keeps the first transport failure.
func (s *stream) setErr(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	return err
}

func (s *stream) send(ctx context.Context) error {
	idle := time.NewTicker(keepAliveEvery)
	defer idle.Stop()

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return s.setErr(fmt.Errorf("deepgram: send audio: %w", err))
			}
			idle.Reset(keepAliveEvery)
		case <-idle.C:
			if err := s.conn.Write(ctx, websocket.MessageText, keepAliveMsg); err != nil {
				return s.setErr(fmt.Errorf("deepgram: keepalive: %w", err))
			}
		case <-s.closing:
			return s.flush(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// flush writes whatever audio is still queued, then CloseStream. Deepgram
// answers with the remaining results and closes the socket.
func (s *stream) flush(ctx context.Context) error {
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return nil
			}
		default:
			_ = s.conn.Write(ctx, websocket.MessageText, closeStreamMsg)
			return nil
		}
	}
}

func (s *stream) receive(ctx context.Context) error {
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.closing:
				return nil
			default:
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return s.setErr(fmt.Errorf("deepgram: receive: %w", err))
		}

		tr, ok := decodeResult(data)
		if !ok {
			continue
		}
		out := s.partials
		if tr.IsFinal {
			out = s.finals
		}
		select {
		case out <- tr:
		case <-ctx.Done():
			return nil
		}
	}
}

// result is the subset of a Deepgram "Results" message parley reads.
type result struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []struct {
		Word       string  `json:"word"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// decodeResult turns a socket message into a transcript. Metadata, malformed
// messages and empty transcripts report false.
func decodeResult(data []byte) (stt.Transcript, bool) {
	var r result
	if json.Unmarshal(data, &r) != nil || r.Type != "Results" || len(r.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	best := r.Channel.Alternatives[0]
	if best.Transcript == "" {
		return stt.Transcript{}, false
	}

	tr := stt.Transcript{Text: best.Transcript, IsFinal: r.IsFinal, Confidence: best.Confidence}
	for _, w := range best.Words {
		tr.Words = append(tr.Words, stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		})
	}
	return tr, true
}
