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

/*
Package cli provides the root command and the helpers shared by the beacon
subcommands.

# Command Tree

	beacon
	├── serve            Run the demo server through the full pipeline
	├── resolve          Print the correlation context for a set of headers
	├── config
	│   ├── show         Print the effective options
	│   ├── path         Print the default options path
	│   ├── validate     Validate the options file
	│   └── init         Write an options file
	├── completion       Generate shell completion scripts
	└── version          Show version

# Global Flags

	--verbose, -v    Debug logging
	--json           Output in JSON format
	--config         Path to the options file

# Exit Codes

  - 0: success
  - 1: general error
  - 2: invalid options
  - 3: invalid flags or arguments
*/
package cli
