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

// Package crc32engine is an incremental CRC-32/IEEE façade that delegates
// repeated-pattern runs to internal/crcmatrix, so that a pattern repeated
// an arbitrarily large number of times costs O(log reps) matrix
// multiplications rather than O(reps) register updates.
package crc32engine

import (
	"math/big"

	"github.com/NateChoe1/ied/internal/crcmatrix"
)

// Engine accumulates a CRC-32/IEEE checksum incrementally.
type Engine struct {
	v uint32
}

// New returns an Engine in the CRC-32 initial state.
func New() Engine {
	return Engine{v: 0xffffffff}
}

// Apply1 folds one byte into the checksum using the ordinary bit-serial
// update.
func (e *Engine) Apply1(b byte) {
	e.v ^= uint32(b)
	for i := 0; i < 8; i++ {
		if e.v&1 != 0 {
			e.v = (e.v >> 1) ^ 0xedb88320
		} else {
			e.v = e.v >> 1
		}
	}
}

// Apply folds each byte of data into the checksum in order.
func (e *Engine) Apply(data []byte) {
	for _, b := range data {
		e.Apply1(b)
	}
}

// ApplyRep folds data repeated reps times into the checksum. It builds the
// GF(2) matrix for one pass over data (feeding bytes in reverse order,
// MSB-first per byte, to match CRC-32's bit convention), exponentiates it
// by reps, and applies it once to the running state — independent of how
// large reps is.
func (e *Engine) ApplyRep(data []byte, reps *big.Int) {
	if len(data) == 0 || reps.Sign() == 0 {
		return
	}

	m := crcmatrix.New()
	for i := len(data) - 1; i >= 0; i-- {
		b := data[i]
		for j := 0; j < 8; j++ {
			if b&(1<<(7-uint(j))) != 0 {
				m.Push1()
			} else {
				m.Push0()
			}
		}
	}
	m.Exponentiate(reps)
	e.v = m.Apply(e.v)
}

// Bytes returns the checksum as 4 big-endian bytes: [crc>>24, crc>>16,
// crc>>8, crc]. Callers producing a gzip trailer must byte-swap this, since
// RFC 1952 mandates little-endian there; see deflatebomb.
func (e Engine) Bytes() [4]byte {
	crc := ^e.v
	return [4]byte{byte(crc >> 24), byte(crc >> 16), byte(crc >> 8), byte(crc)}
}
