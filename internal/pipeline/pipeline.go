// Package pipeline reassembles the unframed rtl_tcp sample stream into
// fixed-size chunks and hands them to a consumer in batches.
package pipeline

import (
	"errors"
	"fmt"
)

// ErrBufferAlloc is returned when the receive buffers cannot be set up.
var ErrBufferAlloc = errors.New("receive buffer allocation failed")

// Block is one completed chunk. Exactly one of Raw and S16 is set, and both
// are only valid for the duration of the delivery call.
type Block struct {
	// Samples is the number of complex I/Q samples in the chunk.
	Samples int
	Raw     []byte
	S16     []int16
}

// DeliverFunc receives chunks in arrival order.
type DeliverFunc func(Block)

// Reassembler accumulates partial reads into depth chunk buffers and
// delivers them once depth chunks are complete. After the first burst only
// the last slot is recycled, so later bursts carry one chunk each and a full
// batch never has to be re-accumulated.
type Reassembler struct {
	depth    int
	bufs     [][]byte
	scratch  []int16
	chunkLen int
	conv     Converter

	slot  int // buffer being filled
	fill  int // bytes in bufs[slot]
	count int // completed chunks not yet delivered, including delivered carry
	begin int // first slot of the next burst
}

// New allocates depth+1 buffers of maxChunk bytes and one conversion buffer.
func New(depth, maxChunk int) (r *Reassembler, err error) {
	if depth <= 0 || maxChunk <= 0 {
		return nil, fmt.Errorf("%w: depth %d, chunk %d", ErrBufferAlloc, depth, maxChunk)
	}
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("%w: %v", ErrBufferAlloc, p)
		}
	}()
	r = &Reassembler{
		depth:    depth,
		bufs:     make([][]byte, depth+1),
		scratch:  make([]int16, maxChunk),
		chunkLen: maxChunk,
	}
	for i := range r.bufs {
		r.bufs[i] = make([]byte, maxChunk)
	}
	return r, nil
}

// ChunkLen is the active chunk length in bytes.
func (r *Reassembler) ChunkLen() int { return r.chunkLen }

// Capacity is the largest chunk length Reset accepts.
func (r *Reassembler) Capacity() int { return len(r.scratch) }

// Reset starts a new session with the given chunk length and converter and
// drops anything buffered.
func (r *Reassembler) Reset(chunkLen int, conv Converter) error {
	if chunkLen <= 0 || chunkLen > r.Capacity() || chunkLen%2 != 0 {
		return fmt.Errorf("chunk length %d outside 2..%d or odd", chunkLen, r.Capacity())
	}
	r.chunkLen = chunkLen
	r.conv = conv
	r.Discard()
	return nil
}

// Discard drops buffered data, complete or partial.
func (r *Reassembler) Discard() {
	r.slot, r.fill, r.count, r.begin = 0, 0, 0, 0
}

// Buffered is the number of bytes held in the slot being filled.
func (r *Reassembler) Buffered() int { return r.fill }

// Space is the unfilled tail of the current chunk. A receive should read
// into it and then report the byte count to Commit.
func (r *Reassembler) Space() []byte {
	return r.bufs[r.slot][r.fill:r.chunkLen]
}

// Commit accounts for n bytes written into Space. When that completes a
// chunk and deliver is nil (paused) everything buffered is dropped and
// dropped is true; otherwise completed bursts go to deliver. delivered is
// the number of chunks handed over.
func (r *Reassembler) Commit(n int, deliver DeliverFunc) (delivered int, dropped bool) {
	if n <= 0 {
		return 0, false
	}
	if n > r.chunkLen-r.fill {
		n = r.chunkLen - r.fill
	}
	r.fill += n
	if r.fill < r.chunkLen {
		return 0, false
	}
	if deliver == nil {
		r.Discard()
		return 0, true
	}
	r.fill = 0
	r.count++
	r.slot++
	if r.count < r.depth {
		return 0, false
	}
	for i := r.begin; i < r.depth; i++ {
		deliver(r.block(r.bufs[i][:r.chunkLen]))
		delivered++
	}
	r.count = r.depth - 1
	r.begin = r.depth - 1
	r.slot = r.depth - 1
	return delivered, false
}

// Feed copies p through Space/Commit, crossing chunk boundaries as needed.
func (r *Reassembler) Feed(p []byte, deliver DeliverFunc) (delivered int, dropped bool) {
	for len(p) > 0 {
		n := copy(r.Space(), p)
		p = p[n:]
		d, drop := r.Commit(n, deliver)
		delivered += d
		dropped = dropped || drop
	}
	return delivered, dropped
}

func (r *Reassembler) block(raw []byte) Block {
	b := Block{Samples: len(raw) / 2}
	if r.conv == U8ToS16 {
		b.S16 = ConvertU8(r.scratch, raw)
	} else {
		b.Raw = raw
	}
	return b
}
