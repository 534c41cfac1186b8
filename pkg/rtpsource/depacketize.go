package rtpsource

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/bits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/pion/rtp"
)

func (s *Source) resetFragments() {
	s.fragments = s.fragments[:0]
	s.fragmentsSize = 0
}

// depacketize extracts access units from a RTP packet.
// A nil, nil return means the packet was the non-final part of a
// fragmented access unit.
// Specification: https://datatracker.ietf.org/doc/html/rfc3640
func (s *Source) depacketize(pkt *rtp.Packet) ([][]byte, error) {
	sizes, body, err := s.splitPayload(pkt.Payload)
	if err != nil {
		s.resetFragments()
		return nil, err
	}

	var aus [][]byte

	switch {
	case s.fragmentsSize > 0:
		aus, err = s.continueFragment(pkt, sizes, body)
		if err != nil {
			s.resetFragments()
			return nil, err
		}
		if aus == nil {
			return nil, nil
		}

	case !pkt.Marker:
		// first packet of a fragmented access unit
		if len(sizes) != 1 {
			return nil, fmt.Errorf("a fragmented packet can only contain one AU")
		}
		if len(body) < sizes[0] {
			return nil, fmt.Errorf("payload is too short")
		}

		s.fragments = append(s.fragments, body[:sizes[0]])
		s.fragmentsSize = sizes[0]
		s.fragmentNextSeqNum = pkt.SequenceNumber + 1
		return nil, nil

	default:
		aus = make([][]byte, len(sizes))
		for i, size := range sizes {
			if len(body) < size {
				return nil, fmt.Errorf("payload is too short")
			}
			aus[i] = body[:size]
			body = body[size:]
		}
	}

	return s.unwrapADTS(aus)
}

// splitPayload separates the AU-headers section from the access unit data.
func (s *Source) splitPayload(payload []byte) ([]int, []byte, error) {
	if len(payload) < 2 {
		return nil, nil, fmt.Errorf("payload is too short")
	}

	// AU-headers-length, in bits
	headersLen := int(payload[0])<<8 | int(payload[1])
	if headersLen == 0 {
		return nil, nil, fmt.Errorf("invalid AU-headers-length")
	}

	headerBytes := (headersLen + 7) / 8
	if (len(payload) - 2) < headerBytes {
		return nil, nil, fmt.Errorf("payload is too short")
	}

	sizes, err := s.auSizes(payload[2:], headersLen)
	if err != nil {
		return nil, nil, err
	}

	return sizes, payload[2+headerBytes:], nil
}

// auSizes parses the AU-headers section and returns the declared size of
// each access unit.
func (s *Source) auSizes(buf []byte, headersLen int) ([]int, error) {
	var sizes []int
	pos := 0

	for rem := headersLen; rem > 0; {
		size, err := bits.ReadBits(buf, &pos, s.SizeLength)
		if err != nil {
			return nil, err
		}
		rem -= s.SizeLength

		// AU-Index on the first header, AU-Index-delta on the others
		indexBits := s.IndexDeltaLength
		if len(sizes) == 0 {
			indexBits = s.IndexLength
		}
		if indexBits > 0 {
			index, err := bits.ReadBits(buf, &pos, indexBits)
			if err != nil {
				return nil, err
			}
			rem -= indexBits

			if index != 0 {
				return nil, fmt.Errorf("interleaved AUs are not supported")
			}
		}

		sizes = append(sizes, int(size))
	}

	return sizes, nil
}

// continueFragment appends a packet to the fragmented access unit in
// progress, returning the reassembled unit once the marked packet arrives.
func (s *Source) continueFragment(pkt *rtp.Packet, sizes []int, body []byte) ([][]byte, error) {
	if len(sizes) != 1 {
		return nil, fmt.Errorf("a fragmented packet can only contain one AU")
	}
	if len(body) < sizes[0] {
		return nil, fmt.Errorf("payload is too short")
	}
	if pkt.SequenceNumber != s.fragmentNextSeqNum {
		return nil, fmt.Errorf("discarding frame since a RTP packet is missing")
	}

	if (s.fragmentsSize + sizes[0]) > mpeg4audio.MaxAccessUnitSize {
		return nil, fmt.Errorf("access unit size (%d) is too big, maximum is %d",
			s.fragmentsSize+sizes[0], mpeg4audio.MaxAccessUnitSize)
	}

	s.fragments = append(s.fragments, body[:sizes[0]])
	s.fragmentsSize += sizes[0]
	s.fragmentNextSeqNum++

	if !pkt.Marker {
		return nil, nil
	}

	au := make([]byte, 0, s.fragmentsSize)
	for _, frag := range s.fragments {
		au = append(au, frag...)
	}
	s.resetFragments()

	return [][]byte{au}, nil
}

// unwrapADTS strips ADTS framing from access units. Some cameras wrap
// every AU into an ADTS frame; this is detected on the first unit and the
// framing is removed from then on.
func (s *Source) unwrapADTS(aus [][]byte) ([][]byte, error) {
	if !s.firstAUParsed {
		s.firstAUParsed = true

		if len(aus) == 1 && len(aus[0]) >= 2 &&
			aus[0][0] == 0xFF && (aus[0][1]&0xF0) == 0xF0 {
			var pkts mpeg4audio.ADTSPackets
			if pkts.Unmarshal(aus[0]) == nil && len(pkts) == 1 {
				s.adtsWrapped = true
				aus[0] = pkts[0].AU
			}
		}
		return aus, nil
	}

	if !s.adtsWrapped {
		return aus, nil
	}

	if len(aus) != 1 {
		return nil, fmt.Errorf("multiple AUs in ADTS mode are not supported")
	}

	var pkts mpeg4audio.ADTSPackets
	err := pkts.Unmarshal(aus[0])
	if err != nil {
		return nil, fmt.Errorf("invalid ADTS framing: %w", err)
	}
	if len(pkts) != 1 {
		return nil, fmt.Errorf("multiple ADTS packets are not supported")
	}

	aus[0] = pkts[0].AU
	return aus, nil
}
