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

// Package checksumtest is a test-only helper that structurally dumps a
// filled payload.Payload tree for use in test failure messages, so a
// mismatched checksum or size failure shows the whole layered segment
// tree instead of just the two numbers that disagreed.
package checksumtest

import "github.com/davecgh/go-spew/spew"

// Dump returns a human-readable structural dump of v, including
// unexported fields, for embedding in t.Errorf/t.Fatalf messages.
func Dump(v interface{}) string {
	return spew.Sdump(v)
}
