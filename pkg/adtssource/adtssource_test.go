package adtssource

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/medialoom/goaudiodec"
	"github.com/medialoom/goaudiodec/pkg/esds"
)

var adtsFrame = []byte{
	0xff, 0xf1, 0x4c, 0x80, 0x01, 0x3f, 0xfc, 0xaa, 0xbb,
}

func TestSourceRead(t *testing.T) {
	stream := append(append([]byte(nil), adtsFrame...), adtsFrame...)

	s := &Source{Reader: bytes.NewReader(stream)}
	err := s.Init()
	require.NoError(t, err)

	f := s.Format()
	require.Equal(t, goaudiodec.MIMETypeAAC, f.MIME)
	require.Equal(t, 48000, f.SampleRate)
	require.Equal(t, 2, f.ChannelCount)

	dsi, err := esds.Extract(f.CodecInitData)
	require.NoError(t, err)
	require.NotEmpty(t, dsi)

	err = s.Start()
	require.NoError(t, err)

	// first unit carries PTS 0
	buf, err := s.Read(nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb}, buf.Bytes())
	pts, ok := buf.PTS()
	require.True(t, ok)
	require.Equal(t, int64(0), pts)
	buf.Release()

	// later units carry no PTS
	buf, err = s.Read(nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa, 0xbb}, buf.Bytes())
	_, ok = buf.PTS()
	require.False(t, ok)
	buf.Release()

	_, err = s.Read(nil)
	require.Equal(t, goaudiodec.ErrEndOfStream, err)

	require.NoError(t, s.Stop())
}

func TestSourceSeekRejected(t *testing.T) {
	s := &Source{Reader: bytes.NewReader(adtsFrame)}
	err := s.Init()
	require.NoError(t, err)

	seek := int64(100)
	_, err = s.Read(&goaudiodec.ReadOptions{SeekTime: &seek})
	require.EqualError(t, err, "seeking is not supported on ADTS streams")
}

func TestSourceInitErrors(t *testing.T) {
	for _, ca := range []struct {
		name   string
		stream []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}},
		{"truncated frame", adtsFrame[:8]},
	} {
		t.Run(ca.name, func(t *testing.T) {
			s := &Source{Reader: bytes.NewReader(ca.stream)}
			require.Error(t, s.Init())
		})
	}
}
