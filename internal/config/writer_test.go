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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	starter := Starter{
		ConnectionString:       "InstrumentationKey=00000000-0000-0000-0000-000000000001",
		EnableAdaptiveSampling: false,
		Channel: StarterChannel{
			Type:   ChannelSQLite,
			SQLite: &SQLiteOptions{Path: filepath.Join(t.TempDir(), "buffer.db"), MaxStored: 100},
		},
	}
	require.NoError(t, Save(path, starter))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, starter.ConnectionString, opts.ConnectionString)
	assert.False(t, opts.EnableAdaptiveSampling)
	assert.Equal(t, ChannelSQLite, opts.Channel.Type)
	assert.Equal(t, 100, opts.Channel.SQLite.MaxStored)
}

func TestSave_RejectsInvalidStarter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := Save(path, Starter{Channel: StarterChannel{Type: "pigeon"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
