// Package bufferpool contains a fixed pool of reusable media buffers.
package bufferpool

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoFreeBuffers is returned by Acquire when every buffer of the pool
// is currently held by a consumer.
var ErrNoFreeBuffers = errors.New("no free buffers in pool")

// Buffer is a fixed-size media buffer.
//
// A Buffer carries a valid byte range inside its backing array, moved with
// SetRange as data is produced or consumed, and an optional presentation
// timestamp in microseconds.
type Buffer struct {
	pool   *Pool
	data   []byte
	offset int
	length int
	pts    int64
	hasPTS bool
	held   bool
}

// Wrap allocates a standalone Buffer around existing data, with the valid
// range covering the whole slice. Releasing a standalone buffer only marks
// it unusable.
func Wrap(data []byte) *Buffer {
	return &Buffer{
		data:   data,
		length: len(data),
		held:   true,
	}
}

// Data returns the whole backing array.
func (b *Buffer) Data() []byte {
	return b.data
}

// Bytes returns the valid range of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[b.offset : b.offset+b.length]
}

// Range returns the offset and length of the valid range.
func (b *Buffer) Range() (int, int) {
	return b.offset, b.length
}

// SetRange sets the valid range of the buffer.
// It panics if the range exceeds the backing array.
func (b *Buffer) SetRange(offset int, length int) {
	if offset < 0 || length < 0 || offset+length > len(b.data) {
		panic(fmt.Sprintf("invalid range [%d, %d) on a buffer of size %d",
			offset, offset+length, len(b.data)))
	}
	b.offset = offset
	b.length = length
}

// SetPTS attaches a presentation timestamp, in microseconds, to the buffer.
func (b *Buffer) SetPTS(pts int64) {
	b.pts = pts
	b.hasPTS = true
}

// PTS returns the presentation timestamp of the buffer, if present.
func (b *Buffer) PTS() (int64, bool) {
	return b.pts, b.hasPTS
}

// Release returns the buffer to its pool.
// The buffer must not be used afterwards. Releasing twice is a fault.
func (b *Buffer) Release() {
	if !b.held {
		panic("buffer released twice")
	}
	b.held = false

	if b.pool != nil {
		b.pool.release(b)
	}
}

// Pool is a fixed set of preallocated buffers.
//
// Acquire hands out one buffer at a time; the consumer gives it back with
// Buffer.Release. The pool never grows: it must be sized upfront for the
// maximum number of buffers held concurrently.
type Pool struct {
	mutex sync.Mutex
	free  []*Buffer
}

// New allocates a Pool of count buffers of the given size.
func New(count int, size int) *Pool {
	p := &Pool{
		free: make([]*Buffer, count),
	}
	for i := range count {
		p.free[i] = &Buffer{
			pool: p,
			data: make([]byte, size),
		}
	}
	return p
}

// Acquire takes a free buffer out of the pool.
// The returned buffer has its valid range reset to the whole backing array
// and no timestamp attached.
func (p *Pool) Acquire() (*Buffer, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.free) == 0 {
		return nil, ErrNoFreeBuffers
	}

	b := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	b.offset = 0
	b.length = len(b.data)
	b.hasPTS = false
	b.held = true
	return b, nil
}

func (p *Pool) release(b *Buffer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.free = append(p.free, b)
}
