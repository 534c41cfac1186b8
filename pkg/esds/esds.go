// Package esds reads and builds MPEG-4 elementary stream descriptors
// carried outside a MP4 container.
package esds

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"
)

// Extract returns the decoder specific info (for MPEG-4 audio, the
// AudioSpecificConfig) carried by a raw elementary stream descriptor.
// Specification: ISO 14496-1, section 7.2.6.5
func Extract(buf []byte) ([]byte, error) {
	sr := bits.NewFixedSliceReader(buf)
	ed, err := mp4.DecodeESDescriptor(sr, uint32(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("invalid ES descriptor: %w", err)
	}

	dc := ed.DecConfigDescriptor
	if dc == nil || dc.DecSpecificInfo == nil || len(dc.DecSpecificInfo.DecConfig) == 0 {
		return nil, fmt.Errorf("decoder specific info not found")
	}

	return dc.DecSpecificInfo.DecConfig, nil
}

// Build wraps decoder specific info into an elementary stream descriptor.
func Build(decSpecificInfo []byte) ([]byte, error) {
	if len(decSpecificInfo) == 0 {
		return nil, fmt.Errorf("decoder specific info is empty")
	}

	ed := mp4.CreateESDescriptor(decSpecificInfo)
	sw := bits.NewFixedSliceWriter(int(ed.SizeSize()))
	err := ed.EncodeSW(sw)
	if err != nil {
		return nil, err
	}

	return sw.Bytes(), nil
}
