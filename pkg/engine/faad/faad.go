// Package faad contains a decode engine backed by the pure Go FAAD2 port.
package faad

import (
	"fmt"

	aac "github.com/llehouerou/go-aac"

	"github.com/medialoom/goaudiodec/pkg/engine"
)

// Engine is an AAC decode engine backed by github.com/llehouerou/go-aac.
//
// Output is always 16-bit interleaved PCM. Multichannel streams are
// downmatrixed and mono streams are upmixed to reach OutputChannels.
type Engine struct {
	// number of output channels. Defaults to 2.
	OutputChannels int

	dec        *aac.Decoder
	sampleRate int
	channels   int
}

// Init initializes the engine.
func (e *Engine) Init() error {
	if e.OutputChannels == 0 {
		e.OutputChannels = 2
	}
	if e.OutputChannels != 2 {
		return fmt.Errorf("unsupported output channel count: %d", e.OutputChannels)
	}

	dec := aac.NewDecoder()
	cfg := dec.Config()
	cfg.OutputFormat = aac.OutputFormat16Bit
	cfg.DownMatrix = true
	dec.SetConfiguration(cfg)

	e.dec = dec
	return nil
}

// Configure implements engine.Engine.
func (e *Engine) Configure(conf []byte) error {
	res, err := e.dec.Init2(conf)
	if err != nil {
		return fmt.Errorf("unsupported stream configuration: %w", err)
	}

	e.sampleRate = int(res.SampleRate)
	e.channels = int(res.Channels)
	return nil
}

// DecodeFrame implements engine.Engine.
func (e *Engine) DecodeFrame(in []byte, out []byte) (engine.FrameResult, error) {
	samples, info, err := e.dec.Decode(in)
	if err != nil {
		return engine.FrameResult{}, err
	}

	res := engine.FrameResult{
		BytesConsumed: int(info.BytesConsumed),
		SampleRate:    int(info.SampleRate),
		Channels:      e.OutputChannels,
	}
	if res.SampleRate == 0 {
		res.SampleRate = e.sampleRate
	}

	pcm, _ := samples.([]int16)
	if len(pcm) == 0 {
		// empty frame (decoder delay or data-only elements)
		return res, nil
	}

	srcChannels := int(info.Channels)
	if srcChannels == 0 {
		srcChannels = e.channels
	}
	if srcChannels == 0 {
		return engine.FrameResult{}, fmt.Errorf("unknown channel layout")
	}

	res.SampleCount = len(pcm) / srcChannels

	n := res.SampleCount * 2 * e.OutputChannels
	if len(out) < n {
		return engine.FrameResult{}, fmt.Errorf("output buffer is too small (%d < %d)", len(out), n)
	}

	switch srcChannels {
	case e.OutputChannels:
		for i, s := range pcm {
			out[i*2] = byte(s)
			out[i*2+1] = byte(uint16(s) >> 8)
		}

	case 1:
		// duplicate mono into each output channel
		for i, s := range pcm {
			for ch := range e.OutputChannels {
				j := (i*e.OutputChannels + ch) * 2
				out[j] = byte(s)
				out[j+1] = byte(uint16(s) >> 8)
			}
		}

	default:
		return engine.FrameResult{}, fmt.Errorf("unexpected channel count: %d", srcChannels)
	}

	return res, nil
}

// PostSeekReset implements engine.Engine.
func (e *Engine) PostSeekReset() {
	// -1 leaves the frame counter untouched
	e.dec.PostSeekReset(-1)
}

// Close implements engine.Engine.
func (e *Engine) Close() {
	e.dec.Close()
}
