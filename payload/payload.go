// Copyright 2024 The ied Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// ----------------

// Package payload implements the lazy, multi-layer representation a
// decompression bomb is built from: an ordered sequence of Segments (fixed
// Blocks and repeating Bombs), optionally wrapping one child Payload one
// layer deeper. Blocks may depend on the fully resolved content of that
// child (so container header lengths, checksums, and trailer sizes are
// computable without ever materializing the child's bytes), and Bombs
// propagate their size down into the child's corresponding bomb when
// filled.
//
// Payloads are built bottom-up, wrapped top-down (see package deflatebomb),
// filled once top-down via Fill, then written once via Write. There is no
// supported mutation after Write.
package payload

import (
	"bufio"
	"errors"
	"io"
	"math/big"

	"github.com/NateChoe1/ied/internal/adler"
	"github.com/NateChoe1/ied/internal/crc32engine"
)

var (
	// ErrBombPatternEmpty is returned by NewBomb if pattern has zero length.
	ErrBombPatternEmpty = errors.New("payload: bomb pattern must be non-empty")
)

var (
	errUnfilledBlockWritten = errors.New("payload: internal: write of an unfilled block")
	errBadResolverLength    = errors.New("payload: internal: resolver returned wrong length")
	errShortWrite           = errors.New("payload: internal: short write")
	errNotABomb             = errors.New("payload: internal: SetBombSize on a non-bomb segment")
	errCursorExhausted      = errors.New("payload: internal: Cursor read past the end of its payload")
)

// Resolver produces a Block's bytes once child is fully filled. child is
// nil exactly when the Block's owning Payload has no child layer.
type Resolver func(child *Payload) []byte

// Propagate sets the size of a corresponding Bomb in child once this
// Bomb's own size is set. child is nil exactly when the Bomb's owning
// Payload has no child layer.
type Propagate func(child *Payload, size *big.Int)

// block is a finite byte segment, either already materialized (known) or a
// promise of bytes of a statically known length, producible by resolver.
type block struct {
	known    bool
	data     []byte
	length   int
	resolver Resolver
}

// bomb is a nonempty, immutable byte pattern repeated size times. Its
// logical contents are pattern[0], pattern[1], …, pattern[size-1] indexed
// modulo len(pattern).
type bomb struct {
	pattern   []byte
	size      *big.Int
	propagate Propagate
}

type segmentKind int

const (
	segBlock segmentKind = iota
	segBomb
)

// Segment is a tagged union of block and bomb, mirroring the two-case
// variant described by the payload model. Go has no sum types, so the kind
// field is the discriminant and exactly one of the block/bomb fields is
// meaningful at a time.
type Segment struct {
	kind  segmentKind
	block block
	bomb  bomb
}

// NewBlock returns a Segment wrapping an already-known byte slice.
func NewBlock(data []byte) Segment {
	return Segment{kind: segBlock, block: block{known: true, data: data, length: len(data)}}
}

// NewUnfilledBlock returns a Segment whose bytes (of the given length) are
// produced by resolver once the owning Payload's child is fully filled.
func NewUnfilledBlock(length int, resolver Resolver) Segment {
	return Segment{kind: segBlock, block: block{known: false, length: length, resolver: resolver}}
}

// NewBomb returns a Segment repeating pattern, with size left at zero and
// propagate a no-op, until Fill sets them.
func NewBomb(pattern []byte) (Segment, error) {
	if len(pattern) == 0 {
		return Segment{}, ErrBombPatternEmpty
	}
	return Segment{kind: segBomb, bomb: bomb{pattern: pattern, size: new(big.Int), propagate: func(*Payload, *big.Int) {}}}, nil
}

// NewPropagatedBomb is NewBomb with an explicit propagate callback, used by
// package deflatebomb to chain a wrapper bomb's size into its child's
// corresponding bomb.
func NewPropagatedBomb(pattern []byte, propagate Propagate) (Segment, error) {
	seg, err := NewBomb(pattern)
	if err != nil {
		return seg, err
	}
	seg.bomb.propagate = propagate
	return seg, nil
}

// Payload is an ordered sequence of Segments at one compression layer,
// optionally owning a Child payload one layer deeper. The root payload (the
// original, unwrapped content) has no child.
type Payload struct {
	Data  []Segment
	Child *Payload
}

// New returns a Payload over data, with no child layer.
func New(data []Segment) *Payload {
	return &Payload{Data: data}
}

// Fill sets every Bomb's size (propagating down into Child layers) and then
// resolves every Unfilled block, child-first. After Fill returns, every
// block in every layer is Known and every bomb in every layer has its size
// set.
func (p *Payload) Fill(size *big.Int) {
	for i := range p.Data {
		if p.Data[i].kind == segBomb {
			p.SetBombSize(i, size)
		}
	}
	p.fillPreset()
}

// Len returns the number of segments at this layer.
func (p *Payload) Len() int { return len(p.Data) }

// SegmentIsBomb reports whether Data[i] is a Bomb rather than a Block.
func (p *Payload) SegmentIsBomb(i int) bool { return p.Data[i].kind == segBomb }

// SegmentLen returns the logical length in bytes that Data[i] contributes
// to one pass over this layer: a block's (possibly still unresolved)
// length, or a bomb's pattern length (not its size). Package deflatebomb
// uses this to size the wrapper block that will literally embed a bomb's
// one-cycle pattern alongside the blocks around it.
func (p *Payload) SegmentLen(i int) int {
	seg := &p.Data[i]
	if seg.kind == segBlock {
		return seg.block.length
	}
	return len(seg.bomb.pattern)
}

// SetBombSize sets the size of the Bomb at Data[i] and invokes its
// propagate callback, exactly as Fill does for every bomb at the top
// layer. Package deflatebomb calls this from a wrapper bomb's own
// propagate callback to chain the 1032x+1291 expansion one layer further
// down; it panics if Data[i] is not a Bomb.
func (p *Payload) SetBombSize(i int, size *big.Int) {
	seg := &p.Data[i]
	if seg.kind != segBomb {
		panic(errNotABomb)
	}
	seg.bomb.size = new(big.Int).Set(size)
	seg.bomb.propagate(p.Child, size)
}

// Cursor walks a Payload's segments byte by byte, yielding each Block's
// bytes and exactly one cycle of each Bomb's pattern whatever the bomb's
// size (the per-segment lengths SegmentLen reports), mirroring the
// child_idx/child_pos
// bookkeeping the DEFLATE synthesizer needs to drain a statically bounded
// number of literal bytes out of a fully filled child layer.
type Cursor struct {
	p      *Payload
	seg    int
	within int
}

// NewCursor returns a Cursor over p positioned at the start of segment
// startSeg.
func (p *Payload) NewCursor(startSeg int) *Cursor {
	return &Cursor{p: p, seg: startSeg}
}

// ReadByte returns the next byte of that walk and advances the cursor. It
// panics if read past the end of the payload's segments or if it lands on
// a Block Fill has not yet resolved to Known — both indicate the caller
// (package deflatebomb) mis-tracked how many bytes a wrapper block is
// entitled to read.
func (c *Cursor) ReadByte() byte {
	for {
		if c.seg >= len(c.p.Data) {
			panic(errCursorExhausted)
		}
		seg := &c.p.Data[c.seg]
		var patternLen int
		var data []byte
		if seg.kind == segBlock {
			if !seg.block.known {
				panic(errUnfilledBlockWritten)
			}
			data = seg.block.data
			patternLen = len(seg.block.data)
		} else {
			data = seg.bomb.pattern
			patternLen = len(seg.bomb.pattern)
		}
		if c.within >= patternLen {
			c.seg++
			c.within = 0
			continue
		}
		b := data[c.within]
		c.within++
		return b
	}
}

// fillPreset resolves every Unfilled block in this layer, after first
// recursing into Child so that resolvers here can read the child's final
// state.
func (p *Payload) fillPreset() {
	if p.Child != nil {
		p.Child.fillPreset()
	}
	for i := range p.Data {
		seg := &p.Data[i]
		if seg.kind != segBlock || seg.block.known {
			continue
		}
		data := seg.block.resolver(p.Child)
		if len(data) != seg.block.length {
			panic(errBadResolverLength)
		}
		seg.block.data = data
		seg.block.known = true
	}
}

// Write walks the payload's segments in order, writing Known block bytes
// verbatim and expanding each bomb's pattern to its full (possibly
// astronomically large) size. Short writes are reported as an error;
// writing a segment that Fill never resolved is a programmer error and
// panics.
func (p *Payload) Write(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	for i := range p.Data {
		seg := &p.Data[i]
		switch seg.kind {
		case segBlock:
			if !seg.block.known {
				panic(errUnfilledBlockWritten)
			}
			if err := writeAll(bw, seg.block.data); err != nil {
				return err
			}
		case segBomb:
			if err := writeBomb(bw, seg.bomb.pattern, seg.bomb.size); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func writeAll(w io.Writer, data []byte) error {
	n, err := w.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return errShortWrite
	}
	return nil
}

// writeBomb expands pattern cyclically to exactly size bytes. size is a
// *big.Int because a bomb's logical size is unbounded, but the number of
// bytes actually written is the caller's choice — this tool's entire
// purpose is keeping that number small while wrapping, so in practice
// writeBomb only ever runs to completion on modest byte counts.
func writeBomb(w io.Writer, pattern []byte, size *big.Int) error {
	patLen := int64(len(pattern))
	const chunkBytes = 64 * 1024

	// buf holds as many whole copies of pattern as fit in chunkBytes (at
	// least one, even if pattern itself is longer than chunkBytes), so a
	// bulk write never splits a cycle of pattern mid-way.
	buf := make([]byte, 0, chunkBytes)
	for int64(len(buf)) < chunkBytes {
		buf = append(buf, pattern...)
	}

	remaining := new(big.Int).Set(size)
	chunk := big.NewInt(int64(len(buf)))
	for remaining.Cmp(chunk) >= 0 {
		if err := writeAll(w, buf); err != nil {
			return err
		}
		remaining.Sub(remaining, chunk)
	}

	// remaining now fits in a machine int64: it is less than len(buf),
	// which was bounded by chunkBytes plus at most one extra pattern copy.
	rest := remaining.Int64()
	for rest > 0 {
		n := patLen
		if n > rest {
			n = rest
		}
		if err := writeAll(w, pattern[:n]); err != nil {
			return err
		}
		rest -= n
	}
	return nil
}

// Adler32 returns the Adler-32 checksum of this payload's fully expanded
// bytes, computed without expanding any bomb: Known block bytes are folded
// in directly, and each bomb is folded in via its closed-form repeated
// contribution.
func (p *Payload) Adler32() [4]byte {
	e := adler.New()
	p.foldChecksums(func(data []byte) { e.Apply(data) }, func(pattern []byte, size *big.Int) { e.ApplyRep(pattern, size) })
	return e.Bytes()
}

// Crc32 returns the CRC-32/IEEE checksum of this payload's fully expanded
// bytes, big-endian. (gzip's own trailer is little-endian; see
// package deflatebomb, which byte-swaps this value for that purpose.)
func (p *Payload) Crc32() [4]byte {
	e := crc32engine.New()
	p.foldChecksums(func(data []byte) { e.Apply(data) }, func(pattern []byte, size *big.Int) { e.ApplyRep(pattern, size) })
	return e.Bytes()
}

func (p *Payload) foldChecksums(applyBlock func([]byte), applyBomb func([]byte, *big.Int)) {
	for i := range p.Data {
		seg := &p.Data[i]
		switch seg.kind {
		case segBlock:
			if !seg.block.known {
				panic(errUnfilledBlockWritten)
			}
			applyBlock(seg.block.data)
		case segBomb:
			applyBomb(seg.bomb.pattern, seg.bomb.size)
		}
	}
}

// Size returns the total logical byte count of this layer only: the sum of
// each Known/resolved block's length plus each bomb's size.
func (p *Payload) Size() *big.Int {
	total := new(big.Int)
	for i := range p.Data {
		seg := &p.Data[i]
		switch seg.kind {
		case segBlock:
			total.Add(total, big.NewInt(int64(seg.block.length)))
		case segBomb:
			total.Add(total, seg.bomb.size)
		}
	}
	return total
}

// FinalSize returns the Size of the innermost (childless) layer — the
// decompressed size of the original content, independent of how many
// wrappers were applied on top.
func (p *Payload) FinalSize() *big.Int {
	root := p
	for root.Child != nil {
		root = root.Child
	}
	return root.Size()
}
