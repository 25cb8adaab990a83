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

package jq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	OperationID string            `json:"operation_id"`
	Properties  map[string]string `json:"properties"`
	Tags        []string          `json:"tags"`
}

func TestQuery_Run(t *testing.T) {
	input := sample{
		OperationID: "4bf92f3577b34da6a3ce929d0e0e4736",
		Properties:  map[string]string{"tenant": "acme"},
		Tags:        []string{"a", "b"},
	}

	tests := []struct {
		name       string
		expression string
		want       []any
	}{
		{"field", ".operation_id", []any{"4bf92f3577b34da6a3ce929d0e0e4736"}},
		{"nested", ".properties.tenant", []any{"acme"}},
		{"multiple results", ".tags[]", []any{"a", "b"}},
		{"missing field", ".missing", []any{nil}},
		{"identity keeps json names", "keys", []any{[]any{"operation_id", "properties", "tags"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Compile(tt.expression)
			require.NoError(t, err)
			got, err := q.Run(context.Background(), input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile(".[")
	assert.ErrorContains(t, err, "invalid jq expression")
}

func TestQuery_RuntimeError(t *testing.T) {
	q, err := Compile(".tags | error(\"boom\")")
	require.NoError(t, err)
	_, err = q.Run(context.Background(), sample{})
	assert.Error(t, err)
}
