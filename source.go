// Package goaudiodec contains pull-based audio sources and decoders.
//
// Sources produce timestamped buffers of compressed or raw audio through a
// blocking Read call; decoders consume a Source and are Sources themselves,
// allowing them to be composed into pipelines.
package goaudiodec

import (
	"errors"
	"time"

	"github.com/medialoom/goaudiodec/pkg/bufferpool"
)

// ErrEndOfStream is returned by Source.Read when the stream is over.
var ErrEndOfStream = errors.New("end of stream")

// MIME types of well-known formats.
const (
	MIMETypeAAC    = "audio/mp4a-latm"
	MIMETypeRawPCM = "audio/raw"
)

// Format describes the media produced by a Source.
type Format struct {
	// MIME type.
	MIME string

	// sample rate in Hz.
	SampleRate int

	// number of channels.
	ChannelCount int

	// opaque codec initialization blob
	// (for AAC, a MPEG-4 elementary stream descriptor), if any.
	CodecInitData []byte

	// stream duration, if known.
	Duration *time.Duration
}

// ReadOptions contains the options of a Read call.
type ReadOptions struct {
	// reposition the stream to this presentation time, in microseconds,
	// before reading.
	SeekTime *int64
}

// Source is a pull-based producer of timestamped media buffers.
//
// Read blocks until a buffer is available and hands its ownership to the
// caller, which must release it when done. A Source is driven by a single
// consumer at a time.
type Source interface {
	// Format returns the format of the produced media.
	// It can be called before Start.
	Format() *Format

	// Start starts the source. It must be called exactly once.
	Start() error

	// Stop stops the source and releases its resources.
	// It must be called exactly once, after Start.
	Stop() error

	// Read returns the next media buffer.
	// It returns ErrEndOfStream when the stream is over; any other error
	// is an I/O failure of the underlying transport.
	Read(opts *ReadOptions) (*bufferpool.Buffer, error)
}
