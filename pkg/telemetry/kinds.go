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

package telemetry

import (
	"fmt"
	"strings"
)

// ParseKind converts a case-insensitive kind name into a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.TrimSpace(s)
	for _, k := range Kinds {
		if strings.EqualFold(string(k), name) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown telemetry kind %q", s)
}

// KindSet is a set of item kinds.
type KindSet map[Kind]struct{}

// NewKindSet returns a set containing kinds.
func NewKindSet(kinds ...Kind) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// ParseKindSet parses a semicolon or comma separated list such as
// "Event;Request". Empty entries are ignored.
func ParseKindSet(list string) (KindSet, error) {
	s := KindSet{}
	fields := strings.FieldsFunc(list, func(r rune) bool { return r == ';' || r == ',' })
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			continue
		}
		k, err := ParseKind(f)
		if err != nil {
			return nil, err
		}
		s[k] = struct{}{}
	}
	return s, nil
}

// Has reports whether k is in the set.
func (s KindSet) Has(k Kind) bool {
	_, ok := s[k]
	return ok
}

// Len returns the number of kinds in the set.
func (s KindSet) Len() int {
	return len(s)
}

// String renders the set in canonical kind order joined by ';'.
func (s KindSet) String() string {
	names := make([]string, 0, len(s))
	for _, k := range Kinds {
		if s.Has(k) {
			names = append(names, string(k))
		}
	}
	return strings.Join(names, ";")
}
