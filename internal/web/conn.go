package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio"
)

const (
	inputBuffer   = 64
	outputBuffer  = 64
	controlBuffer = 128
	writeTimeout  = 5 * time.Second
	readLimit     = 1 << 20
)

// errSlowClient closes a connection whose control queue overflowed.
var errSlowClient = errors.New("web: client too slow to keep up with messages")

// OutputWriter drops frames instead of blocking once the connection is gone
// or its queue is full.
type OutputWriter struct {
	ch           chan<- audio.AudioFrame
	disconnected atomic.Bool
}

// Send queues frame for the client. It reports false when the frame was
// dropped.
func (w *OutputWriter) Send(frame audio.AudioFrame) bool {
	if w.disconnected.Load() {
		return false
	}
	select {
	case w.ch <- frame:
		return true
	default:
		return false
	}
}

// Close makes later Send calls no-ops. The channel itself is not closed.
func (w *OutputWriter) Close() {
	w.disconnected.Store(true)
}

// Conn is the audio and control path to one browser over a WebSocket. It
// implements [audio.Connection]: binary frames from the browser arrive on
// InputStream as microphone PCM, and frames sent to OutputStream go back as
// binary frames. JSON control messages share the same socket.
//
// Conn is safe for concurrent use.
type Conn struct {
	ws        *websocket.Conn
	inputRate int

	input        chan audio.AudioFrame
	output       chan audio.AudioFrame
	outputWriter *OutputWriter
	control      chan []byte
	onCommand    func(command)

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu           sync.Mutex
	disconnected bool
	readDone     chan struct{}
	writeDone    chan struct{}
	dropped      atomic.Int64
}

var _ audio.Connection = (*Conn)(nil)

// newConn wraps ws. Nothing is read or written until start. Text frames are
// decoded and passed to onCommand on the read goroutine; binary frames become
// microphone frames at inputRate.
func newConn(parent context.Context, ws *websocket.Conn, inputRate int, onCommand func(command)) *Conn {
	ctx, cancel := context.WithCancelCause(parent)
	out := make(chan audio.AudioFrame, outputBuffer)
	c := &Conn{
		ws:           ws,
		inputRate:    inputRate,
		input:        make(chan audio.AudioFrame, inputBuffer),
		output:       out,
		outputWriter: &OutputWriter{ch: out},
		control:      make(chan []byte, controlBuffer),
		onCommand:    onCommand,
		ctx:          ctx,
		cancel:       cancel,
		readDone:     make(chan struct{}),
		writeDone:    make(chan struct{}),
	}
	ws.SetReadLimit(readLimit)
	return c
}

// start launches the read and write loops. Messages queued with SendJSON
// before start are written first.
func (c *Conn) start() {
	go c.readLoop()
	go c.writeLoop()
}

// InputStream returns microphone frames. It is closed when the browser
// disconnects. Frames are dropped while the buffer is full.
func (c *Conn) InputStream() <-chan audio.AudioFrame { return c.input }

// OutputStream returns the channel for synthesized audio.
func (c *Conn) OutputStream() chan<- audio.AudioFrame { return c.output }

// OutputWriter returns a writer that never blocks and is safe after
// Disconnect. Prefer it over OutputStream.
func (c *Conn) OutputWriter() *OutputWriter { return c.outputWriter }

// Done is closed when the connection is torn down.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Err returns why the connection ended, or nil while it is open.
func (c *Conn) Err() error { return context.Cause(c.ctx) }

// SendJSON queues v as a text frame. A client that cannot keep up is
// disconnected.
func (c *Conn) SendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("web: encode message", "err", err)
		return
	}
	select {
	case <-c.ctx.Done():
	case c.control <- data:
	default:
		c.close(websocket.StatusPolicyViolation, errSlowClient)
	}
}

// Disconnect closes the socket with a normal closure. It is safe to call more
// than once.
func (c *Conn) Disconnect() error {
	c.close(websocket.StatusNormalClosure, nil)
	return nil
}

// Shutdown closes the socket telling the browser the server is going away,
// then waits for the loops to exit or ctx to end.
func (c *Conn) Shutdown(ctx context.Context) error {
	c.close(websocket.StatusGoingAway, errors.New("web: server shutting down"))
	select {
	case <-c.readDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DroppedFrames returns how many microphone frames were discarded.
func (c *Conn) DroppedFrames() int64 { return c.dropped.Load() }

func (c *Conn) close(code websocket.StatusCode, cause error) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	c.mu.Unlock()

	if cause == nil {
		cause = context.Canceled
	}
	c.outputWriter.Close()
	c.cancel(cause)
	go func() {
		<-c.writeDone
		_ = c.ws.Close(code, "")
	}()
}

// readLoop is the only sender on c.input and closes it on exit. Reads are not
// bound to c.ctx: cancelling a read drops the TCP connection without a close
// frame, so the loop ends when close completes the handshake instead.
func (c *Conn) readLoop() {
	defer close(c.readDone)
	defer close(c.input)
	defer c.close(websocket.StatusNormalClosure, nil)

	for {
		typ, data, err := c.ws.Read(context.WithoutCancel(c.ctx))
		if err != nil {
			if c.ctx.Err() == nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					slog.Debug("web: read failed", "err", err)
				}
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			frame := audio.AudioFrame{Data: data, SampleRate: c.inputRate, Channels: 1}
			select {
			case c.input <- frame:
			default:
				c.dropped.Add(1)
			}
		case websocket.MessageText:
			var cmd command
			if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
				c.SendJSON(ErrorMessage{Type: msgError, Message: "malformed message"})
				continue
			}
			if c.onCommand != nil {
				c.onCommand(cmd)
			}
		}
	}
}

// writeLoop is the only writer on the socket.
func (c *Conn) writeLoop() {
	defer close(c.writeDone)
	for {
		select {
		case <-c.ctx.Done():
			// The parent context ended without an explicit close.
			c.close(websocket.StatusGoingAway, nil)
			return
		case data := <-c.control:
			if err := c.write(websocket.MessageText, data); err != nil {
				c.close(websocket.StatusInternalError, err)
				return
			}
		case frame := <-c.output:
			if err := c.write(websocket.MessageBinary, frame.Data); err != nil {
				c.close(websocket.StatusInternalError, err)
				return
			}
		}
	}
}

// write is bounded by writeTimeout only; see readLoop.
func (c *Conn) write(typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, typ, data)
}
