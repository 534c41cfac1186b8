package goaudiodec

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/medialoom/goaudiodec/pkg/bufferpool"
	"github.com/medialoom/goaudiodec/pkg/engine"
	"github.com/medialoom/goaudiodec/pkg/engine/faad"
	"github.com/medialoom/goaudiodec/pkg/esds"
)

const (
	outputChannels = 2
	bytesPerSample = 2

	// worst case single-frame payload: 2048 samples per channel (SBR).
	maxFrameSamples = 2048

	outputBufferSize = maxFrameSamples * bytesPerSample * outputChannels
)

// pendingInput is the single slot that buffers the current compressed
// access unit between decode calls. It is either empty or holds a partially
// consumed unit; the valid range of the buffer is the unconsumed remainder.
type pendingInput struct {
	buf *bufferpool.Buffer
}

func (p *pendingInput) empty() bool {
	return p.buf == nil
}

func (p *pendingInput) set(buf *bufferpool.Buffer) {
	p.buf = buf
}

// bytes returns the unconsumed remainder of the buffered unit.
func (p *pendingInput) bytes() []byte {
	return p.buf.Bytes()
}

// consume advances the consumed offset by n bytes, releasing the unit once
// it is fully consumed.
func (p *pendingInput) consume(n int) {
	offset, length := p.buf.Range()
	p.buf.SetRange(offset+n, length-n)

	if length-n == 0 {
		p.discard()
	}
}

// discard releases the buffered unit regardless of remaining bytes.
func (p *pendingInput) discard() {
	if p.buf != nil {
		p.buf.Release()
		p.buf = nil
	}
}

// AACDecoder is a Source that pulls AAC access units from another Source
// and decodes them into raw 16-bit interleaved stereo PCM.
//
// Presentation timestamps are not taken from decoded frames: they are
// derived from the timestamp of the last access unit that carried one, plus
// the number of samples emitted since. A per-frame decode failure is
// replaced with silence and the corrupted unit is dropped, so a damaged
// stream degrades to short gaps instead of stalling.
//
// An AACDecoder must not be shared: it owns its engine state and is driven
// by a single consumer.
type AACDecoder struct {
	// upstream source. Required.
	Source Source

	// decode engine.
	// It defaults to the pure Go AAC engine (pkg/engine/faad).
	Engine engine.Engine

	// called when a corrupted frame is replaced with silence.
	OnDecodeError func(err error)

	pool               *bufferpool.Pool
	pending            pendingInput
	anchorTime         int64 // microseconds
	samplesSinceAnchor int64
	sampleRate         int
	lastFrameSamples   int
	running            bool
}

// Start implements Source.
func (d *AACDecoder) Start() error {
	if d.running {
		panic("decoder is already started")
	}

	// one output buffer: the pull model keeps a single frame in flight.
	d.pool = bufferpool.New(1, outputBufferSize)

	if d.Engine == nil {
		eng := &faad.Engine{OutputChannels: outputChannels}
		err := eng.Init()
		if err != nil {
			return err
		}
		d.Engine = eng
	}

	srcFormat := d.Source.Format()
	d.sampleRate = srcFormat.SampleRate

	if srcFormat.CodecInitData != nil {
		dsi, err := esds.Extract(srcFormat.CodecInitData)
		if err != nil {
			d.Engine.Close()
			return fmt.Errorf("invalid codec initialization data: %w", err)
		}

		var conf mpeg4audio.Config
		err = conf.Unmarshal(dsi)
		if err != nil {
			d.Engine.Close()
			return fmt.Errorf("unsupported stream: %w", err)
		}
		d.sampleRate = conf.SampleRate

		err = d.Engine.Configure(dsi)
		if err != nil {
			d.Engine.Close()
			return fmt.Errorf("unsupported stream: %w", err)
		}
	}

	if d.sampleRate == 0 {
		d.sampleRate = 44100
	}

	err := d.Source.Start()
	if err != nil {
		d.Engine.Close()
		return err
	}

	d.anchorTime = 0
	d.samplesSinceAnchor = 0
	d.lastFrameSamples = mpeg4audio.SamplesPerAccessUnit
	d.running = true
	return nil
}

// Stop implements Source.
func (d *AACDecoder) Stop() error {
	if !d.running {
		panic("decoder is not started")
	}

	d.pending.discard()
	d.Engine.Close()
	d.pool = nil

	err := d.Source.Stop()
	d.running = false
	return err
}

// Format implements Source.
// The reported format always has 2 channels, regardless of the number of
// channels of the upstream source.
func (d *AACDecoder) Format() *Format {
	srcFormat := d.Source.Format()

	return &Format{
		MIME:         MIMETypeRawPCM,
		SampleRate:   srcFormat.SampleRate,
		ChannelCount: outputChannels,
		Duration:     srcFormat.Duration,
	}
}

// Read implements Source.
// It returns one decoded frame of PCM. The returned buffer belongs to the
// caller until released; the pool is sized for one outstanding buffer, so
// it must be released before the next Read.
func (d *AACDecoder) Read(opts *ReadOptions) (*bufferpool.Buffer, error) {
	if !d.running {
		panic("decoder is not started")
	}

	seeking := false
	if opts != nil && opts.SeekTime != nil {
		if *opts.SeekTime < 0 {
			panic("negative seek target")
		}
		seeking = true

		// repositioning is performed by the upstream source; here buffered
		// input is dropped, sample counting restarts and the engine
		// forgets its decode history.
		d.samplesSinceAnchor = 0
		d.pending.discard()
		d.Engine.PostSeekReset()
	}

	if d.pending.empty() {
		in, err := d.Source.Read(opts)
		if err != nil {
			return nil, err
		}
		d.pending.set(in)

		if pts, ok := in.PTS(); ok {
			d.anchorTime = pts
			d.samplesSinceAnchor = 0
		} else if seeking {
			panic("access unit without timestamp after a seek")
		}
	}

	out, err := d.pool.Acquire()
	if err != nil {
		panic("output buffer pool exhausted: previous buffer was not released")
	}

	res, decErr := d.Engine.DecodeFrame(d.pending.bytes(), out.Data())

	var frameSamples int
	if decErr != nil {
		if d.OnDecodeError != nil {
			d.OnDecodeError(decErr)
		}

		// substitute silence sized like the frame the engine would have
		// produced, and drop the corrupted unit instead of retrying it.
		frameSamples = d.lastFrameSamples
		numOutBytes := frameSamples * bytesPerSample * outputChannels
		clear(out.Data()[:numOutBytes])
		out.SetRange(0, numOutBytes)

		d.pending.discard()
	} else {
		frameSamples = res.SampleCount
		out.SetRange(0, res.SampleCount*bytesPerSample*outputChannels)

		d.pending.consume(res.BytesConsumed)

		if res.SampleRate != 0 {
			d.sampleRate = res.SampleRate
		}
		if res.SampleCount != 0 {
			d.lastFrameSamples = res.SampleCount
		}
	}

	out.SetPTS(d.anchorTime + d.samplesSinceAnchor*1000000/int64(d.sampleRate))
	d.samplesSinceAnchor += int64(frameSamples)

	return out, nil
}
