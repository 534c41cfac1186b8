// Package rtpsource contains a Source that depacketizes RTP MPEG-4 audio.
package rtpsource

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/pion/rtp"

	"github.com/medialoom/goaudiodec"
	"github.com/medialoom/goaudiodec/pkg/bufferpool"
	"github.com/medialoom/goaudiodec/pkg/esds"
)

type queuedAU struct {
	data []byte
	pts  int64
}

// Source is a forward-only Source that extracts timestamped AAC access
// units from a feed of RTP packets, following the generic mode of RFC 3640
// (AU headers, fragmented access units, optional ADTS wrapping).
//
// Every produced access unit carries an explicit timestamp, derived from
// the RTP timestamp of its packet and relative to the first packet of the
// feed.
type Source struct {
	// called to obtain the next RTP packet. Required.
	// It must return goaudiodec.ErrEndOfStream when the feed is over.
	ReadPacket func() (*rtp.Packet, error)

	// stream configuration, usually from the SDP fmtp line. Required.
	Config *mpeg4audio.Config

	// number of bits of the AU-size field.
	SizeLength int
	// number of bits of the AU-Index field.
	IndexLength int
	// number of bits of the AU-Index-delta field.
	IndexDeltaLength int

	// called when a malformed packet is skipped.
	OnPacketError func(err error)

	format *goaudiodec.Format
	queue  []queuedAU

	fragments          [][]byte
	fragmentsSize      int
	fragmentNextSeqNum uint16
	firstAUParsed      bool
	adtsWrapped        bool

	tsInitial *int64
	tsPrev    *int64
	tsAdd     int64
}

// Init validates the configuration and must be called before any other
// method.
func (s *Source) Init() error {
	if s.ReadPacket == nil {
		return fmt.Errorf("ReadPacket is required")
	}
	if s.Config == nil {
		return fmt.Errorf("Config is required")
	}
	if s.SizeLength == 0 {
		return fmt.Errorf("SizeLength is required")
	}

	asc, err := s.Config.Marshal()
	if err != nil {
		return err
	}

	blob, err := esds.Build(asc)
	if err != nil {
		return err
	}

	s.format = &goaudiodec.Format{
		MIME:          goaudiodec.MIMETypeAAC,
		SampleRate:    s.Config.SampleRate,
		ChannelCount:  s.Config.ChannelCount,
		CodecInitData: blob,
	}
	return nil
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
// The feed is forward-only: seek requests are rejected.
func (s *Source) Read(opts *goaudiodec.ReadOptions) (*bufferpool.Buffer, error) {
	if opts != nil && opts.SeekTime != nil {
		return nil, fmt.Errorf("seeking is not supported on RTP feeds")
	}

	for len(s.queue) == 0 {
		pkt, err := s.ReadPacket()
		if err != nil {
			return nil, err
		}

		aus, err := s.depacketize(pkt)
		if err != nil {
			if s.OnPacketError != nil {
				s.OnPacketError(err)
			}
			continue
		}

		pts := s.decodeTimestamp(pkt.Timestamp)
		for i, au := range aus {
			s.queue = append(s.queue, queuedAU{
				data: au,
				pts: pts + int64(i)*mpeg4audio.SamplesPerAccessUnit*
					1000000/int64(s.Config.SampleRate),
			})
		}
	}

	au := s.queue[0]
	s.queue = s.queue[1:]

	buf := bufferpool.Wrap(au.data)
	buf.SetPTS(au.pts)
	return buf, nil
}

// decodeTimestamp converts a 32-bit RTP timestamp into microseconds,
// relative to the timestamp of the first packet and compensating for
// wraparounds.
func (s *Source) decodeTimestamp(ts uint32) int64 {
	ts64 := int64(ts) + s.tsAdd

	if s.tsInitial == nil {
		initial := ts64
		s.tsInitial = &initial
	}

	if s.tsPrev != nil && (ts64-*s.tsPrev) < -0xFFFF {
		ts64 += 0xFFFFFFFF
		s.tsAdd += 0xFFFFFFFF
	}
	prev := ts64
	s.tsPrev = &prev

	return (ts64 - *s.tsInitial) * 1000000 / int64(s.Config.SampleRate)
}
