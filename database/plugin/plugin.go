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

package plugin

import "fmt"

type Plugin interface {
	Start() error
	Stop() error
}

// ErrorPlugin is a plugin that always returns an error on Start()
type ErrorPlugin struct {
	Err error
}

func (e *ErrorPlugin) Start() error {
	return e.Err
}

func (e *ErrorPlugin) Stop() error {
	return nil
}

// NewErrorPlugin creates a plugin that returns the given error on Start().
// Constructors use it to defer construction errors until startup.
func NewErrorPlugin(err error) Plugin {
	return &ErrorPlugin{Err: err}
}

// StartPlugin gets a plugin from the registry and starts it
func StartPlugin(pluginType PluginType, pluginName string) (Plugin, error) {
	p := GetPlugin(pluginType, pluginName)
	if p == nil {
		return nil, fmt.Errorf(
			"%s plugin '%s' not found",
			PluginTypeName(pluginType),
			pluginName,
		)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf(
			"failed to start %s plugin '%s': %w",
			PluginTypeName(pluginType),
			pluginName,
			err,
		)
	}
	return p, nil
}

// SetPluginOption sets the value of a named option for a plugin entry.
// Callers use it to override plugin defaults (for example the data-dir)
// before starting a plugin.
//
// The registry and the option destinations are not synchronized; call this
// only during initialization, before any plugin is instantiated.
func SetPluginOption(
	pluginType PluginType,
	pluginName string,
	optionName string,
	value any,
) error {
	for i := range pluginEntries {
		entry := &pluginEntries[i]
		if entry.Type != pluginType || entry.Name != pluginName {
			continue
		}
		for _, opt := range entry.Options {
			if opt.Name != optionName {
				continue
			}
			return assignOption(opt, optionName, value)
		}
		// Unknown options are not fatal: callers may probe options that
		// only some implementations expose (for example data-dir)
		return nil
	}
	return fmt.Errorf(
		"plugin %s of type %s not found",
		pluginName,
		PluginTypeName(pluginType),
	)
}

// assignOption performs a type-checked write through the option's Dest pointer
func assignOption(opt PluginOption, optionName string, value any) error {
	switch dest := opt.Dest.(type) {
	case *string:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf(
				"invalid type for option %s: expected string, got %T",
				optionName, value,
			)
		}
		*dest = v
	case *bool:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf(
				"invalid type for option %s: expected bool, got %T",
				optionName, value,
			)
		}
		*dest = v
	case *int:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf(
				"invalid type for option %s: expected int, got %T",
				optionName, value,
			)
		}
		*dest = v
	case *uint64:
		switch v := value.(type) {
		case uint64:
			*dest = v
		case int:
			if v < 0 {
				return fmt.Errorf(
					"invalid value for option %s: negative int",
					optionName,
				)
			}
			*dest = uint64(v)
		default:
			return fmt.Errorf(
				"invalid type for option %s: expected uint64 or int, got %T",
				optionName, value,
			)
		}
	case nil:
		return fmt.Errorf("nil destination for option %s", optionName)
	default:
		return fmt.Errorf(
			"unsupported destination type %T for option %s",
			opt.Dest, optionName,
		)
	}
	return nil
}
