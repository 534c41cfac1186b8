package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	p := New(1, 4096)

	buf, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, 4096, len(buf.Data()))
	require.Equal(t, 4096, len(buf.Bytes()))

	_, err = p.Acquire()
	require.Equal(t, ErrNoFreeBuffers, err)

	buf.Release()

	buf2, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, buf, buf2)
}

func TestAcquireResetsState(t *testing.T) {
	p := New(1, 64)

	buf, err := p.Acquire()
	require.NoError(t, err)
	buf.SetRange(8, 16)
	buf.SetPTS(123456)
	buf.Release()

	buf, err = p.Acquire()
	require.NoError(t, err)

	offset, length := buf.Range()
	require.Equal(t, 0, offset)
	require.Equal(t, 64, length)

	_, ok := buf.PTS()
	require.False(t, ok)
}

func TestSetRange(t *testing.T) {
	buf := Wrap(make([]byte, 10))
	buf.SetRange(2, 5)

	require.Equal(t, 5, len(buf.Bytes()))

	offset, length := buf.Range()
	require.Equal(t, 2, offset)
	require.Equal(t, 5, length)

	require.Panics(t, func() {
		buf.SetRange(8, 3)
	})
	require.Panics(t, func() {
		buf.SetRange(-1, 2)
	})
}

func TestWrap(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	buf := Wrap(data)
	require.Equal(t, data, buf.Bytes())

	buf.SetPTS(500000)
	pts, ok := buf.PTS()
	require.True(t, ok)
	require.Equal(t, int64(500000), pts)

	buf.Release()
	require.Panics(t, buf.Release)
}
