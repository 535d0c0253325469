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

package plugin_test

import (
	"testing"

	"github.com/cachet-io/cachet/database/plugin"
)

// Mock plugin implementation for testing
type mockPlugin struct{}

func (m *mockPlugin) Start() error { return nil }
func (m *mockPlugin) Stop() error  { return nil }

func TestRegister(t *testing.T) {
	pluginName := "test-plugin-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeBlob,
		Name:               pluginName,
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
	})

	// Check that GetPlugin finds it
	p := plugin.GetPlugin(plugin.PluginTypeBlob, pluginName)
	if p == nil {
		t.Error("plugin not found")
	}

	// Check that GetPlugins includes it
	found := false
	for _, entry := range plugin.GetPlugins(plugin.PluginTypeBlob) {
		if entry.Name == pluginName && entry.Type == plugin.PluginTypeBlob {
			found = true
			break
		}
	}
	if !found {
		t.Error("plugin not in GetPlugins list")
	}
}

func TestGetPluginsByType(t *testing.T) {
	blobName := "blob-test-" + t.Name()
	metaName := "meta-test-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeBlob,
		Name:               blobName,
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
	})
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeMetadata,
		Name:               metaName,
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
	})

	for _, entry := range plugin.GetPlugins(plugin.PluginTypeBlob) {
		if entry.Name == metaName {
			t.Error("metadata plugin returned for blob type")
		}
	}
	foundMeta := false
	for _, entry := range plugin.GetPlugins(plugin.PluginTypeMetadata) {
		if entry.Name == metaName {
			foundMeta = true
			break
		}
	}
	if !foundMeta {
		t.Error("metadata plugin not found")
	}
}

func TestGetPluginUnknown(t *testing.T) {
	if p := plugin.GetPlugin(plugin.PluginTypeBlob, "unknown-"+t.Name()); p != nil {
		t.Error("expected nil for unknown plugin")
	}
}

func TestPluginTypeName(t *testing.T) {
	if name := plugin.PluginTypeName(plugin.PluginTypeBlob); name != "blob" {
		t.Errorf("unexpected name: %s", name)
	}
	if name := plugin.PluginTypeName(plugin.PluginTypeMetadata); name != "metadata" {
		t.Errorf("unexpected name: %s", name)
	}
	if name := plugin.PluginTypeName(plugin.PluginType(42)); name != "unknown" {
		t.Errorf("unexpected name: %s", name)
	}
}
