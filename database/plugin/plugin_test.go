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
	"errors"
	"testing"

	"github.com/cachet-io/cachet/database/plugin"
)

func TestErrorPlugin(t *testing.T) {
	startErr := errors.New("construction failed")
	p := plugin.NewErrorPlugin(startErr)
	if err := p.Start(); !errors.Is(err, startErr) {
		t.Errorf("expected construction error from Start, got %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("expected nil from Stop, got %v", err)
	}
}

func TestStartPluginNotFound(t *testing.T) {
	_, err := plugin.StartPlugin(plugin.PluginTypeBlob, "nonexistent-"+t.Name())
	if err == nil {
		t.Fatal("expected error for unknown plugin")
	}
}

func TestStartPluginStartFailure(t *testing.T) {
	pluginName := "failing-" + t.Name()
	startErr := errors.New("backend unavailable")
	plugin.Register(plugin.PluginEntry{
		Type: plugin.PluginTypeBlob,
		Name: pluginName,
		NewFromOptionsFunc: func() plugin.Plugin {
			return plugin.NewErrorPlugin(startErr)
		},
	})
	_, err := plugin.StartPlugin(plugin.PluginTypeBlob, pluginName)
	if !errors.Is(err, startErr) {
		t.Fatalf("expected wrapped start error, got %v", err)
	}
}

func TestSetPluginOption(t *testing.T) {
	pluginName := "options-" + t.Name()
	var (
		dataDir   string
		gcEnabled bool
		cacheSize uint64
	)
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeBlob,
		Name:               pluginName,
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
		Options: []plugin.PluginOption{
			{
				Name: "data-dir",
				Type: plugin.PluginOptionTypeString,
				Dest: &dataDir,
			},
			{
				Name: "gc",
				Type: plugin.PluginOptionTypeBool,
				Dest: &gcEnabled,
			},
			{
				Name: "cache-size",
				Type: plugin.PluginOptionTypeUint,
				Dest: &cacheSize,
			},
		},
	})

	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, pluginName, "data-dir", "/tmp/x"); err != nil {
		t.Fatalf("unexpected error setting string option: %v", err)
	}
	if dataDir != "/tmp/x" {
		t.Errorf("data-dir not written, got %q", dataDir)
	}

	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, pluginName, "gc", true); err != nil {
		t.Fatalf("unexpected error setting bool option: %v", err)
	}
	if !gcEnabled {
		t.Error("gc not written")
	}

	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, pluginName, "cache-size", uint64(1024)); err != nil {
		t.Fatalf("unexpected error setting uint option: %v", err)
	}
	if cacheSize != 1024 {
		t.Errorf("cache-size not written, got %d", cacheSize)
	}

	// Plain non-negative ints are accepted for uint options
	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, pluginName, "cache-size", 2048); err != nil {
		t.Fatalf("unexpected error setting uint option from int: %v", err)
	}
	if cacheSize != 2048 {
		t.Errorf("cache-size not written from int, got %d", cacheSize)
	}
	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, pluginName, "cache-size", -1); err == nil {
		t.Error("expected error for negative int on uint option")
	}

	// Wrong value type is an error
	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, pluginName, "data-dir", 123); err == nil {
		t.Error("expected type error for int on string option")
	}

	// Unknown options are a no-op
	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, pluginName, "does-not-exist", "x"); err != nil {
		t.Errorf("unexpected error for unknown option: %v", err)
	}

	// Unknown plugins are an error
	if err := plugin.SetPluginOption(plugin.PluginTypeBlob, "nonexistent-"+t.Name(), "data-dir", "x"); err == nil {
		t.Error("expected error for unknown plugin")
	}
}
