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

// Package isaterm answers one question: is the given file descriptor an
// interactive terminal? cmd/ied uses it to refuse, absent an explicit
// override, to stream raw bomb bytes to a terminal.
package isaterm

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Stdout reports whether os.Stdout is attached to an interactive terminal,
// including a Cygwin/MSYS pty on Windows.
func Stdout() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
