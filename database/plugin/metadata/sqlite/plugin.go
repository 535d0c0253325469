// Copyright 2025 Cachet Labs
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

package sqlite

import (
	"sync"

	"github.com/cachet-io/cachet/database/plugin"
)

var (
	cmdlineOptions struct {
		dataDir string
	}
	cmdlineOptionsMutex sync.Mutex
)

func init() {
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeMetadata,
			Name:               "sqlite",
			Description:        "stores metadata in a SQLite database",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				{
					Name:         "data-dir",
					Type:         plugin.PluginOptionTypeString,
					Description:  "sets the directory for storing data",
					DefaultValue: ".cachet",
					Dest:         &(cmdlineOptions.dataDir),
				},
			},
		},
	)
}

// NewFromCmdlineOptions creates a sqlite metadata store from the registered
// command line options
func NewFromCmdlineOptions() plugin.Plugin {
	cmdlineOptionsMutex.Lock()
	defer cmdlineOptionsMutex.Unlock()
	p, err := New(
		cmdlineOptions.dataDir,
		nil,
		nil,
	)
	if err != nil {
		return plugin.NewErrorPlugin(err)
	}
	return p
}
