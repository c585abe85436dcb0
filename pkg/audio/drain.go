package audio

// Discard consumes ch in a new goroutine until it is closed, so the producer
// behind an abandoned stream can finish. A nil channel is ignored.
func Discard[T any](ch <-chan T) {
	if ch == nil {
		return
	}
	go func() {
		for range ch {
		}
	}()
}
