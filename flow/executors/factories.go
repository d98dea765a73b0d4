package executors

import (
	"github.com/dshills/flowrun-go/flow"
	"github.com/dshills/flowrun-go/flow/plugin"
)

// RegisterBuiltins registers every built-in executor with the registry.
func RegisterBuiltins(registry *flow.Registry) error {
	for _, ex := range []flow.Executor{
		NewEcho(),
		NewSet(),
		NewDelay(),
		NewHTTPRequest(),
		NewOpenAIChat(),
		NewAnthropicChat(),
		NewGoogleChat(),
	} {
		if err := registry.Register(ex); err != nil {
			return err
		}
	}
	return nil
}

// Factories exposes the built-in executors to the plugin loader, so
// manifests can register them under additional node types (for example
// a preconfigured "slack" node backed by the HTTP executor).
func Factories() plugin.FactorySet {
	return plugin.FactorySet{
		"echo":           func(map[string]any) (flow.Executor, error) { return NewEcho(), nil },
		"set":            func(map[string]any) (flow.Executor, error) { return NewSet(), nil },
		"delay":          func(map[string]any) (flow.Executor, error) { return NewDelay(), nil },
		"http_request":   func(map[string]any) (flow.Executor, error) { return NewHTTPRequest(), nil },
		"openai_chat":    func(map[string]any) (flow.Executor, error) { return NewOpenAIChat(), nil },
		"anthropic_chat": func(map[string]any) (flow.Executor, error) { return NewAnthropicChat(), nil },
		"google_chat":    func(map[string]any) (flow.Executor, error) { return NewGoogleChat(), nil },
	}
}
