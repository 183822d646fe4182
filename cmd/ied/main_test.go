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

package main

import (
	"bytes"
	"compress/gzip"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/NateChoe1/ied/deflatebomb"
	"github.com/NateChoe1/ied/payload"
)

// TestCLIGzipEndToEnd drives main1 directly, the way any other Go test
// exercises a function — no go build, no exec.Command against a compiled
// binary — and checks the resulting file decodes to the requested byte
// repeated 2000*1032+1291 times: the size argument fills the outermost
// layer's bomb, and one gzip layer expands a bomb of size s to 1032*s+1291.
func TestCLIGzipEndToEnd(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "bomb.gz")

	err := main1([]string{"gzip", "2000", "-L", "88", "-o", out})
	if err != nil {
		t.Fatalf("main1: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	r, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("gzip decode: %v", err)
	}
	want := bytes.Repeat([]byte{88}, 2000*1032+1291)
	if !bytes.Equal(got, want) {
		t.Errorf("decoded %d bytes, want %d matching byte 88", len(got), len(want))
	}
}

// TestCLIMatchesProgrammaticConstruction checks that "ied gzip 10 -l A"
// produces bytes identical to the equivalent Payload built and
// Filled/Written directly through package deflatebomb, i.e. that the CLI
// layer adds no behavior of its own beyond argument parsing.
func TestCLIMatchesProgrammaticConstruction(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "bomb.gz")

	if err := main1([]string{"gzip", "10", "-l", "A", "-o", out}); err != nil {
		t.Fatalf("main1: %v", err)
	}
	cliBytes, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}

	bomb, err := payload.NewBomb([]byte{'A'})
	if err != nil {
		t.Fatal(err)
	}
	p := payload.New([]payload.Segment{bomb})
	wrapped, err := deflatebomb.Gzip(p)
	if err != nil {
		t.Fatal(err)
	}
	wrapped.Fill(big.NewInt(10))

	var direct bytes.Buffer
	if err := wrapped.Write(&direct); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(cliBytes, direct.Bytes()) {
		t.Errorf("CLI output (%d bytes) != direct construction (%d bytes)", len(cliBytes), direct.Len())
	}
}

func TestBuildPayloadLeftmostTokenIsOutermost(t *testing.T) {
	bomb, err := payload.NewBomb([]byte{0x61})
	if err != nil {
		t.Fatal(err)
	}
	top, err := buildPayload([]payload.Segment{bomb}, "deflate,gzip")
	if err != nil {
		t.Fatal(err)
	}

	// "deflate,gzip": deflate is leftmost, so it must be the outermost
	// layer — the gzip magic bytes must not appear at the front.
	var buf bytes.Buffer
	top.Fill(big.NewInt(3))
	if err := top.Write(&buf); err != nil {
		t.Fatal(err)
	}
	got := buf.Bytes()
	if len(got) >= 2 && got[0] == 0x1f && got[1] == 0x8b {
		t.Errorf("leftmost token \"deflate\" produced a gzip-framed outermost layer")
	}
	want := 2
	if len(got) < want || got[0] != 0x08 || got[1] != 0x1d {
		t.Errorf("outermost layer does not start with the zlib header, got % x", got[:minInt(len(got), want)])
	}
}

func TestBuildPayloadRejectsUnknownEncoding(t *testing.T) {
	if _, err := buildPayload(nil, "bzip2"); err == nil {
		t.Error("buildPayload with unknown encoding token = nil error, want non-nil")
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
