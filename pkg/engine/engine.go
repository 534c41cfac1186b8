// Package engine contains the contract of frame-oriented audio decode engines.
package engine

// FrameResult reports the outcome of a single decode call.
type FrameResult struct {
	// PCM samples produced, per channel.
	SampleCount int

	// compressed bytes consumed from the input.
	BytesConsumed int

	// sample rate in effect, in Hz.
	SampleRate int

	// number of interleaved output channels.
	Channels int
}

// Engine is a stateful audio decode engine that transforms compressed
// access units into PCM, one frame per call.
//
// An Engine instance owns its working memory and must not be shared:
// exactly one decoder drives it for its whole lifetime.
type Engine interface {
	// Configure performs the one-time stream setup from codec-specific
	// initialization bytes (for MPEG-4 audio, the AudioSpecificConfig).
	Configure(conf []byte) error

	// DecodeFrame decodes one frame.
	// It reads compressed bytes from in, writes interleaved PCM into out
	// and reports how much of each was used.
	// in and out are borrowed for the duration of the call only.
	DecodeFrame(in []byte, out []byte) (FrameResult, error)

	// PostSeekReset discards decode history (filter bank overlap, SBR
	// state) so that the next frame is decoded independently of the
	// frames that preceded a seek.
	PostSeekReset()

	// Close releases the engine working memory.
	// The engine must not be used afterwards.
	Close()
}
