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

// Package adler computes Adler-32 (RFC 1950) over data that may include a
// byte pattern repeated an arbitrarily large number of times, without ever
// materializing the repetitions.
//
// Adler-32 keeps two running sums s1, s2 mod 65521. Repeating a pattern p a
// total of n times is an arithmetic series in n: the contribution to s1 is
// linear in n, and the contribution to s2 is linear in the sum of the first
// n integers (a triangular number), so both close over n via modular
// multiplication instead of a loop of length n.
package adler

import "math/big"

const modAdler = 65521

// invTwoModAdler is the modular inverse of 2 mod 65521, used to evaluate
// the triangular number n(n-1)/2 mod 65521 without division.
const invTwoModAdler = 32761

// Engine accumulates an Adler-32 checksum incrementally, with ApplyRep
// providing a closed-form update for a pattern repeated many times.
type Engine struct {
	s1, s2 uint32
}

// New returns an Engine in the Adler-32 initial state (s1=1, s2=0).
func New() Engine {
	return Engine{s1: 1, s2: 0}
}

// Apply1 folds one byte into the checksum.
func (e *Engine) Apply1(b byte) {
	e.s1 = (e.s1 + uint32(b)) % modAdler
	e.s2 = (e.s2 + e.s1) % modAdler
}

// Apply folds each byte of data into the checksum in order.
func (e *Engine) Apply(data []byte) {
	for _, b := range data {
		e.Apply1(b)
	}
}

// ApplyRep folds data repeated reps times into the checksum, in O(len(data))
// time regardless of how large reps is.
//
// reps is a *big.Int because a single bomb's repeat count may exceed any
// machine word (sizes up to 10^100+ are expected); the closed-form update
// below only ever needs reps reduced mod 65521, which always fits a
// uint32.
func (e *Engine) ApplyRep(data []byte, reps *big.Int) {
	if len(data) == 0 || reps.Sign() == 0 {
		return
	}

	// t1 is the s1-contribution of a single pass over data, starting from
	// s1=0. t2 is the s2-contribution of a single pass over data, starting
	// from s1=s2=0 (i.e. Sum over i of (len(data)-i)*data[i], the weight
	// each byte carries in s2 by the time the pass ends).
	var t1, t2 uint64
	for _, b := range data {
		t1 = (t1 + uint64(b)) % modAdler
		t2 = (t2 + t1) % modAdler
	}

	n := new(big.Int).Mod(reps, big.NewInt(modAdler)).Uint64()
	l := uint64(len(data)) % modAdler

	// length is the total byte count of n full passes, mod 65521.
	length := (n * l) % modAdler
	// triangular is n*(n-1)/2 mod 65521, via the modular inverse of 2.
	triangular := (n % modAdler) * ((n + modAdler - 1) % modAdler) % modAdler * invTwoModAdler % modAdler

	s1, s2 := uint64(e.s1), uint64(e.s2)
	s2 = (s2 + s1*length) % modAdler
	s1 = (s1 + t1*n) % modAdler
	s2 = (s2 + t2*n) % modAdler
	s2 = (s2 + l*triangular%modAdler*t1%modAdler) % modAdler

	e.s1, e.s2 = uint32(s1), uint32(s2)
}

// Bytes returns the checksum as 4 bytes, big-endian s2 then s1, per RFC 1950.
func (e Engine) Bytes() [4]byte {
	return [4]byte{
		byte(e.s2 >> 8), byte(e.s2),
		byte(e.s1 >> 8), byte(e.s1),
	}
}
