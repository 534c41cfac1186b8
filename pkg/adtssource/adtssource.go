// Package adtssource contains a Source that reads an ADTS-framed AAC stream.
package adtssource

import (
	"bufio"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/medialoom/goaudiodec"
	"github.com/medialoom/goaudiodec/pkg/bufferpool"
	"github.com/medialoom/goaudiodec/pkg/esds"
)

// Source is a forward-only Source that splits an ADTS stream into access
// units. The stream format is probed from the first frame; only the first
// access unit carries a timestamp, frame durations accumulate from there.
type Source struct {
	// reader of the ADTS stream. Required.
	Reader io.Reader

	br      *bufio.Reader
	format  *goaudiodec.Format
	firstAU []byte
	sent    bool
}

// Init probes the stream and must be called before any other method.
func (s *Source) Init() error {
	s.br = bufio.NewReader(s.Reader)

	pkt, err := s.readFrame()
	if err != nil {
		return fmt.Errorf("invalid ADTS stream: %w", err)
	}

	conf := mpeg4audio.Config{
		Type:         pkt.Type,
		SampleRate:   pkt.SampleRate,
		ChannelCount: pkt.ChannelCount,
	}
	asc, err := conf.Marshal()
	if err != nil {
		return err
	}

	blob, err := esds.Build(asc)
	if err != nil {
		return err
	}

	s.format = &goaudiodec.Format{
		MIME:          goaudiodec.MIMETypeAAC,
		SampleRate:    pkt.SampleRate,
		ChannelCount:  pkt.ChannelCount,
		CodecInitData: blob,
	}
	s.firstAU = pkt.AU
	return nil
}

// readFrame reads one ADTS frame from the stream and extracts its AU.
func (s *Source) readFrame() (*mpeg4audio.ADTSPacket, error) {
	header := make([]byte, 7)
	_, err := io.ReadFull(s.br, header)
	if err != nil {
		return nil, err
	}

	if header[0] != 0xFF || (header[1]&0xF0) != 0xF0 {
		return nil, fmt.Errorf("invalid ADTS syncword")
	}

	// frame length includes the header itself
	frameLen := int(header[3]&0x03)<<11 | int(header[4])<<3 | int(header[5])>>5
	if frameLen < len(header) {
		return nil, fmt.Errorf("invalid ADTS frame length %d", frameLen)
	}

	frame := make([]byte, frameLen)
	copy(frame, header)
	_, err = io.ReadFull(s.br, frame[len(header):])
	if err != nil {
		return nil, err
	}

	var pkts mpeg4audio.ADTSPackets
	err = pkts.Unmarshal(frame)
	if err != nil {
		return nil, err
	}
	if len(pkts) != 1 {
		return nil, fmt.Errorf("unexpected ADTS packet count: %d", len(pkts))
	}

	return pkts[0], nil
}

// Format implements goaudiodec.Source.
func (s *Source) Format() *goaudiodec.Format {
	return s.format
}

// Start implements goaudiodec.Source.
func (s *Source) Start() error {
	return nil
}

// Stop implements goaudiodec.Source.
func (s *Source) Stop() error {
	return nil
}

// Read implements goaudiodec.Source.
// The stream is forward-only: seek requests are rejected.
func (s *Source) Read(opts *goaudiodec.ReadOptions) (*bufferpool.Buffer, error) {
	if opts != nil && opts.SeekTime != nil {
		return nil, fmt.Errorf("seeking is not supported on ADTS streams")
	}

	if !s.sent {
		s.sent = true
		buf := bufferpool.Wrap(s.firstAU)
		buf.SetPTS(0)
		s.firstAU = nil
		return buf, nil
	}

	pkt, err := s.readFrame()
	if err != nil {
		if err == io.EOF {
			return nil, goaudiodec.ErrEndOfStream
		}
		return nil, err
	}

	return bufferpool.Wrap(pkt.AU), nil
}
