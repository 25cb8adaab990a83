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

// Package shared holds the flags, output helpers and exit codes used by
// every beacon command.
package shared

var (
	verboseFlag bool
	jsonFlag    bool
	configFlag  string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers for the global flags so the root
// command can bind them.
func RegisterFlagPointers() (verbose *bool, json *bool, config *string) {
	return &verboseFlag, &jsonFlag, &configFlag
}

// SetVersion records build information.
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

func GetVerbose() bool {
	return verboseFlag
}

func GetJSON() bool {
	return jsonFlag
}

// GetConfigPath returns the --config flag value.
func GetConfigPath() string {
	return configFlag
}

func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// SetConfigPathForTest overrides the --config flag value.
func SetConfigPathForTest(path string) {
	configFlag = path
}

// SetJSONForTest overrides the --json flag value.
func SetJSONForTest(enabled bool) {
	jsonFlag = enabled
}
