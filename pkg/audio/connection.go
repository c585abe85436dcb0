package audio

// Connection is the audio path to a single connected client.
//
// Microphone audio arrives on InputStream in the format the client negotiated
// at connect time; synthesized audio written to OutputStream is delivered to
// the same client. Implementations must be safe for concurrent use.
type Connection interface {
	// InputStream returns the channel of microphone frames. The channel is
	// closed when the client disconnects. Frames arriving while nobody reads
	// may be dropped by the implementation.
	InputStream() <-chan AudioFrame

	// OutputStream returns the channel for synthesized audio. The caller owns
	// writes; after Disconnect, frames written here are dropped (not a panic).
	OutputStream() chan<- AudioFrame

	// Disconnect tears down the connection and closes the input stream. It is
	// safe to call more than once; later calls return nil.
	Disconnect() error
}
