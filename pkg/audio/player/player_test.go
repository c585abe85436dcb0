package player_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/player"
)

const waitTimeout = 2 * time.Second

// pcm returns n bytes of 16-bit silence.
func pcm(n int) []byte { return make([]byte, n) }

func closedSegment(id string, rate int, chunks ...[]byte) *audio.AudioSegment {
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return &audio.AudioSegment{ID: id, Audio: ch, SampleRate: rate, Channels: 1}
}

func openSegment(id string) (*audio.AudioSegment, chan []byte) {
	ch := make(chan []byte, 16)
	return &audio.AudioSegment{ID: id, Audio: ch, SampleRate: 16000, Channels: 1}, ch
}

func collect() (func(audio.AudioFrame), chan audio.AudioFrame) {
	ch := make(chan audio.AudioFrame, 64)
	return func(f audio.AudioFrame) { ch <- f }, ch
}

func doneRecorder() (func(error), chan error) {
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, ch
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for completion")
		return nil
	}
}

func waitFrame(t *testing.T, ch <-chan audio.AudioFrame) audio.AudioFrame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a frame")
		return audio.AudioFrame{}
	}
}

func TestPlay_DeliversChunksAndCompletes(t *testing.T) {
	t.Parallel()

	output, frames := collect()
	p := player.New(output, player.WithLead(time.Hour))
	defer p.Close()

	done, doneCh := doneRecorder()
	if err := p.Play(closedSegment("u1", 16000, pcm(320), pcm(640)), done); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := waitErr(t, doneCh); err != nil {
		t.Fatalf("completion error = %v, want nil", err)
	}

	f1, f2 := waitFrame(t, frames), waitFrame(t, frames)
	if len(f1.Data) != 320 || len(f2.Data) != 640 {
		t.Errorf("frame sizes = %d, %d, want 320, 640", len(f1.Data), len(f2.Data))
	}
	if f2.Timestamp != 10*time.Millisecond {
		t.Errorf("second frame timestamp = %v, want 10ms", f2.Timestamp)
	}
}

func TestPlay_FIFO(t *testing.T) {
	t.Parallel()

	output, frames := collect()
	p := player.New(output, player.WithLead(time.Hour))
	defer p.Close()

	d1, c1 := doneRecorder()
	d2, c2 := doneRecorder()
	_ = p.Play(closedSegment("first", 16000, pcm(2)), d1)
	_ = p.Play(closedSegment("second", 16000, pcm(4)), d2)
	waitErr(t, c1)
	waitErr(t, c2)

	if f := waitFrame(t, frames); len(f.Data) != 2 {
		t.Errorf("first frame = %d bytes, want 2", len(f.Data))
	}
	if f := waitFrame(t, frames); len(f.Data) != 4 {
		t.Errorf("second frame = %d bytes, want 4", len(f.Data))
	}
}

func TestPlay_ConvertsToOutputFormat(t *testing.T) {
	t.Parallel()

	output, frames := collect()
	p := player.New(output,
		player.WithLead(time.Hour),
		player.WithFormat(audio.Format{SampleRate: 48000, Channels: 2}),
	)
	defer p.Close()

	done, doneCh := doneRecorder()
	_ = p.Play(closedSegment("u1", 24000, pcm(480)), done)
	waitErr(t, doneCh)

	f := waitFrame(t, frames)
	if f.SampleRate != 48000 || f.Channels != 2 {
		t.Errorf("format = %dHz %dch, want 48000Hz 2ch", f.SampleRate, f.Channels)
	}
	if len(f.Data) != 480*4 {
		t.Errorf("len = %d, want %d", len(f.Data), 480*4)
	}
}

func TestPlay_ReportsStreamError(t *testing.T) {
	t.Parallel()

	output, _ := collect()
	p := player.New(output)
	defer p.Close()

	want := errors.New("synthesis failed")
	seg, ch := openSegment("u1")
	seg.SetStreamErr(want)
	close(ch)

	done, doneCh := doneRecorder()
	_ = p.Play(seg, done)
	if err := waitErr(t, doneCh); !errors.Is(err, want) {
		t.Errorf("completion error = %v, want %v", err, want)
	}
}

func TestPlay_RejectsInvalidFormat(t *testing.T) {
	t.Parallel()

	output, _ := collect()
	p := player.New(output)
	defer p.Close()

	seg := closedSegment("u1", 0)
	if err := p.Play(seg, nil); !errors.Is(err, player.ErrInvalidFormat) {
		t.Errorf("Play = %v, want ErrInvalidFormat", err)
	}
}

func TestPlay_Paces(t *testing.T) {
	t.Parallel()

	output, _ := collect()
	p := player.New(output, player.WithLead(0))
	defer p.Close()

	// Three 20ms chunks: the third may only start after ~40ms.
	done, doneCh := doneRecorder()
	start := time.Now()
	_ = p.Play(closedSegment("u1", 16000, pcm(640), pcm(640), pcm(640)), done)
	waitErr(t, doneCh)
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("segment finished after %v, want >= 40ms", elapsed)
	}
}

func TestPauseResume(t *testing.T) {
	t.Parallel()

	output, frames := collect()
	p := player.New(output, player.WithLead(time.Hour))
	defer p.Close()

	if p.Pause() {
		t.Error("Pause with nothing playing should report false")
	}

	seg, ch := openSegment("u1")
	done, doneCh := doneRecorder()
	_ = p.Play(seg, done)

	ch <- pcm(2)
	waitFrame(t, frames)

	if !p.Pause() {
		t.Fatal("Pause should report true while playing")
	}
	if p.Pause() {
		t.Error("second Pause should report false")
	}
	if !p.Paused() {
		t.Error("Paused() = false after Pause")
	}

	ch <- pcm(4)
	select {
	case f := <-frames:
		t.Fatalf("frame of %d bytes delivered while paused", len(f.Data))
	case <-time.After(50 * time.Millisecond):
	}

	if !p.Resume() {
		t.Fatal("Resume should report true while paused")
	}
	if p.Resume() {
		t.Error("second Resume should report false")
	}
	if f := waitFrame(t, frames); len(f.Data) != 4 {
		t.Errorf("held frame = %d bytes, want 4", len(f.Data))
	}

	close(ch)
	if err := waitErr(t, doneCh); err != nil {
		t.Errorf("completion error = %v, want nil", err)
	}
}

func TestPause_QueuedSegment(t *testing.T) {
	t.Parallel()

	output, frames := collect()
	p := player.New(output, player.WithLead(time.Hour))
	defer p.Close()

	seg, ch := openSegment("u1")
	done, doneCh := doneRecorder()
	_ = p.Play(seg, done)

	// The segment may still be queued; the pause must hold it either way.
	if !p.Pause() {
		t.Fatal("Pause right after Play should report true")
	}
	ch <- pcm(2)
	select {
	case f := <-frames:
		t.Fatalf("frame of %d bytes delivered while paused", len(f.Data))
	case <-time.After(50 * time.Millisecond):
	}

	if !p.Resume() {
		t.Fatal("Resume should report true while paused")
	}
	waitFrame(t, frames)
	close(ch)
	if err := waitErr(t, doneCh); err != nil {
		t.Errorf("completion error = %v, want nil", err)
	}
}

func TestInterrupt_StopsCurrentAndDropsQueue(t *testing.T) {
	t.Parallel()

	output, frames := collect()
	p := player.New(output, player.WithLead(time.Hour))
	defer p.Close()

	seg1, ch1 := openSegment("u1")
	d1, c1 := doneRecorder()
	d2, c2 := doneRecorder()
	_ = p.Play(seg1, d1)
	_ = p.Play(closedSegment("u2", 16000, pcm(8)), d2)

	ch1 <- pcm(2)
	waitFrame(t, frames)

	p.Interrupt()
	if err := waitErr(t, c1); !errors.Is(err, player.ErrInterrupted) {
		t.Errorf("current segment error = %v, want ErrInterrupted", err)
	}
	if err := waitErr(t, c2); !errors.Is(err, player.ErrInterrupted) {
		t.Errorf("queued segment error = %v, want ErrInterrupted", err)
	}
	if p.Busy() {
		t.Error("Busy() = true after Interrupt")
	}

	// The producer of an interrupted segment must not block.
	for range 20 {
		ch1 <- pcm(2)
	}
	close(ch1)

	select {
	case f := <-frames:
		t.Errorf("unexpected frame of %d bytes after Interrupt", len(f.Data))
	case <-time.After(20 * time.Millisecond):
	}
}

func TestInterrupt_WhilePaused(t *testing.T) {
	t.Parallel()

	output, frames := collect()
	p := player.New(output, player.WithLead(time.Hour))
	defer p.Close()

	seg, ch := openSegment("u1")
	done, doneCh := doneRecorder()
	_ = p.Play(seg, done)
	ch <- pcm(2)
	waitFrame(t, frames)
	p.Pause()
	ch <- pcm(2)

	p.Interrupt()
	if err := waitErr(t, doneCh); !errors.Is(err, player.ErrInterrupted) {
		t.Errorf("error = %v, want ErrInterrupted", err)
	}
	if p.Paused() {
		t.Error("Paused() = true after Interrupt")
	}

	d2, c2 := doneRecorder()
	_ = p.Play(closedSegment("u2", 16000, pcm(6)), d2)
	if err := waitErr(t, c2); err != nil {
		t.Errorf("next segment error = %v, want nil", err)
	}
	if f := waitFrame(t, frames); len(f.Data) != 6 {
		t.Errorf("next frame = %d bytes, want 6 (held chunk must be discarded)", len(f.Data))
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	output, _ := collect()
	p := player.New(output)

	seg, _ := openSegment("u1")
	done, doneCh := doneRecorder()
	_ = p.Play(seg, done)

	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := waitErr(t, doneCh); err == nil {
		t.Error("expected a non-nil completion error after Close")
	}
	if err := p.Play(closedSegment("u2", 16000), nil); !errors.Is(err, player.ErrClosed) {
		t.Errorf("Play after Close = %v, want ErrClosed", err)
	}
}
