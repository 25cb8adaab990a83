// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package correlation

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// NewOperationID returns a fresh 32-character lowercase hex operation id.
func NewOperationID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// NewSpanID returns a fresh 16-character lowercase hex span id.
func NewSpanID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// IsCompatibleTraceID reports whether id can be used directly as a W3C
// trace id: exactly 32 lowercase hex characters, not all zero.
func IsCompatibleTraceID(id string) bool {
	if len(id) != 32 {
		return false
	}
	zero := true
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c == '0':
		case c >= '1' && c <= '9', c >= 'a' && c <= 'f':
			zero = false
		default:
			return false
		}
	}
	return !zero
}

// RootOf returns the root component of a hierarchical Request-Id: the text
// after an optional leading '|' up to the first '.'. A value with no '.'
// is its own root.
func RootOf(requestID string) string {
	s := strings.TrimPrefix(requestID, "|")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// HierarchicalID formats a root and span as "|root.span.".
func HierarchicalID(root, span string) string {
	return "|" + root + "." + span + "."
}

// normalizeHierarchical rewrites a Request-Id as "|root.suffix." keeping
// its components unchanged.
func normalizeHierarchical(requestID string) string {
	s := strings.TrimSuffix(strings.TrimPrefix(requestID, "|"), ".")
	return "|" + s + "."
}
