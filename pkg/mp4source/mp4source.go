// Package mp4source contains a Source that reads the AAC track of a MP4 file.
package mp4source

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/medialoom/goaudiodec"
	"github.com/medialoom/goaudiodec/pkg/bufferpool"
	"github.com/medialoom/goaudiodec/pkg/esds"
)

type sample struct {
	offset int64
	size   int
	pts    int64 // microseconds
}

// Source is a seekable Source that extracts timestamped AAC access units
// from the audio track of a non-fragmented MP4 file.
type Source struct {
	// path of the file. Required.
	Path string

	file    *os.File
	format  *goaudiodec.Format
	samples []sample
	pos     int
}

// Init opens and parses the file. It must be called before any other method.
func (s *Source) Init() error {
	file, err := os.Open(s.Path)
	if err != nil {
		return err
	}

	err = s.parse(file)
	if err != nil {
		file.Close()
		return err
	}

	s.file = file
	return nil
}

func (s *Source) parse(file *os.File) error {
	parsed, err := mp4.DecodeFile(file, mp4.WithDecodeMode(mp4.DecModeLazyMdat))
	if err != nil {
		return fmt.Errorf("invalid MP4: %w", err)
	}
	if parsed.IsFragmented() {
		return fmt.Errorf("fragmented MP4 files are not supported")
	}
	if parsed.Moov == nil {
		return fmt.Errorf("invalid MP4: missing moov box")
	}

	trak := findAudioTrack(parsed)
	if trak == nil {
		return fmt.Errorf("no AAC audio track found")
	}

	stsd := trak.Mdia.Minf.Stbl.Stsd
	entry := stsd.Mp4a
	if entry.Esds == nil ||
		entry.Esds.DecConfigDescriptor == nil ||
		entry.Esds.DecConfigDescriptor.DecSpecificInfo == nil ||
		len(entry.Esds.DecConfigDescriptor.DecSpecificInfo.DecConfig) == 0 {
		return fmt.Errorf("audio track is missing its decoder configuration")
	}
	asc := append([]byte(nil), entry.Esds.DecConfigDescriptor.DecSpecificInfo.DecConfig...)

	timescale := int64(trak.Mdia.Mdhd.Timescale)
	if timescale == 0 {
		return fmt.Errorf("invalid MP4: zero timescale")
	}

	samples, totalDelta, err := buildSamples(trak, timescale)
	if err != nil {
		return err
	}

	blob, err := esds.Build(asc)
	if err != nil {
		return err
	}

	duration := time.Duration(totalDelta*1000000/timescale) * time.Microsecond

	s.samples = samples
	s.format = &goaudiodec.Format{
		MIME:          goaudiodec.MIMETypeAAC,
		SampleRate:    int(timescale),
		ChannelCount:  int(entry.ChannelCount),
		CodecInitData: blob,
		Duration:      &duration,
	}
	return nil
}

func findAudioTrack(parsed *mp4.File) *mp4.TrakBox {
	for _, trak := range parsed.Moov.Traks {
		if trak == nil || trak.Mdia == nil || trak.Mdia.Hdlr == nil ||
			trak.Mdia.Hdlr.HandlerType != "soun" {
			continue
		}
		if trak.Mdia.Mdhd == nil || trak.Mdia.Minf == nil ||
			trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil ||
			trak.Mdia.Minf.Stbl.Stsd.Mp4a == nil {
			continue
		}
		return trak
	}
	return nil
}

// buildSamples flattens the sample tables into one entry per access unit.
func buildSamples(trak *mp4.TrakBox, timescale int64) ([]sample, int64, error) {
	stbl := trak.Mdia.Minf.Stbl
	if stbl.Stsc == nil || stbl.Stsz == nil || stbl.Stts == nil ||
		(stbl.Stco == nil && stbl.Co64 == nil) {
		return nil, 0, fmt.Errorf("invalid MP4: incomplete sample table")
	}
	if len(stbl.Stsc.Entries) == 0 {
		return nil, 0, fmt.Errorf("invalid MP4: empty chunk map")
	}

	count := int(trak.GetNrSamples())
	if count == 0 {
		return nil, 0, fmt.Errorf("invalid MP4: empty sample table")
	}

	sizes, err := sampleSizes(stbl.Stsz, count)
	if err != nil {
		return nil, 0, err
	}

	deltas, err := sampleDeltas(stbl.Stts, count)
	if err != nil {
		return nil, 0, err
	}

	chunkOffsets := chunkOffsets(stbl)

	samples := make([]sample, 0, count)
	var elapsed int64

	i := 0
	entryIndex := 0
	entry := stbl.Stsc.Entries[entryIndex]

	for chunkIndex := 0; chunkIndex < len(chunkOffsets) && i < count; chunkIndex++ {
		for entryIndex+1 < len(stbl.Stsc.Entries) &&
			uint32(chunkIndex+1) >= stbl.Stsc.Entries[entryIndex+1].FirstChunk {
			entryIndex++
			entry = stbl.Stsc.Entries[entryIndex]
		}

		offset := chunkOffsets[chunkIndex]
		for j := 0; j < int(entry.SamplesPerChunk) && i < count; j++ {
			samples = append(samples, sample{
				offset: offset,
				size:   sizes[i],
				pts:    elapsed * 1000000 / timescale,
			})
			offset += int64(sizes[i])
			elapsed += deltas[i]
			i++
		}
	}

	if i != count {
		return nil, 0, fmt.Errorf("invalid MP4: sample table mismatch")
	}

	return samples, elapsed, nil
}

func sampleSizes(stsz *mp4.StszBox, count int) ([]int, error) {
	sizes := make([]int, count)

	if stsz.SampleUniformSize != 0 {
		for i := range sizes {
			sizes[i] = int(stsz.SampleUniformSize)
		}
		return sizes, nil
	}

	if len(stsz.SampleSize) != count {
		return nil, fmt.Errorf("invalid MP4: sample table mismatch")
	}
	for i, size := range stsz.SampleSize {
		sizes[i] = int(size)
	}
	return sizes, nil
}

func sampleDeltas(stts *mp4.SttsBox, count int) ([]int64, error) {
	if len(stts.SampleCount) != len(stts.SampleTimeDelta) {
		return nil, fmt.Errorf("invalid MP4: incomplete timing tables")
	}

	deltas := make([]int64, 0, count)
	for i := range stts.SampleCount {
		for range stts.SampleCount[i] {
			deltas = append(deltas, int64(stts.SampleTimeDelta[i]))
		}
	}

	if len(deltas) != count {
		return nil, fmt.Errorf("invalid MP4: sample table mismatch")
	}
	return deltas, nil
}

func chunkOffsets(stbl *mp4.StblBox) []int64 {
	if stbl.Stco != nil {
		offsets := make([]int64, len(stbl.Stco.ChunkOffset))
		for i, offset := range stbl.Stco.ChunkOffset {
			offsets[i] = int64(offset)
		}
		return offsets
	}

	offsets := make([]int64, len(stbl.Co64.ChunkOffset))
	for i, offset := range stbl.Co64.ChunkOffset {
		offsets[i] = int64(offset)
	}
	return offsets
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
	return s.file.Close()
}

// Read implements goaudiodec.Source.
// Every returned access unit carries an explicit timestamp. A seek request
// repositions to the access unit covering the target time.
func (s *Source) Read(opts *goaudiodec.ReadOptions) (*bufferpool.Buffer, error) {
	if opts != nil && opts.SeekTime != nil {
		target := *opts.SeekTime

		// first sample past the target, then one step back to cover it
		i := sort.Search(len(s.samples), func(i int) bool {
			return s.samples[i].pts > target
		})
		if i > 0 {
			i--
		}
		s.pos = i
	}

	if s.pos >= len(s.samples) {
		return nil, goaudiodec.ErrEndOfStream
	}

	sa := s.samples[s.pos]
	s.pos++

	data := make([]byte, sa.size)
	_, err := s.file.ReadAt(data, sa.offset)
	if err != nil {
		return nil, err
	}

	buf := bufferpool.Wrap(data)
	buf.SetPTS(sa.pts)
	return buf, nil
}
