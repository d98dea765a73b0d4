// Package plugin loads executor plugins declared by JSON manifests.
//
// A plugin artifact is a "<name>.plugin.json" file in the configured
// directory. Each manifest names one or more executors by factory key;
// the host supplies a FactorySet mapping factory keys to constructors,
// so executor code is statically linked while the set of registered
// node types stays data-driven.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/flowrun-go/flow"
)

// Factory constructs an executor from manifest-supplied configuration.
type Factory func(config map[string]any) (flow.Executor, error)

// FactorySet maps factory keys to constructors.
type FactorySet map[string]Factory

// Manifest is the on-disk plugin declaration.
//
// Example:
//
//	{
//	  "name": "notifications",
//	  "executors": [
//	    {"nodeType": "slack", "factory": "http_request",
//	     "config": {"method": "POST"}}
//	  ]
//	}
type Manifest struct {
	Name      string         `json:"name"`
	Executors []ExecutorSpec `json:"executors"`
}

// ExecutorSpec declares one executor registration within a manifest.
type ExecutorSpec struct {
	NodeType string         `json:"nodeType"`
	Factory  string         `json:"factory"`
	Config   map[string]any `json:"config,omitempty"`
}

// Loader scans a directory for plugin manifests and registers the
// declared executors. Errors in one artifact never abort loading of
// others; node-type collisions are logged as warnings and override the
// prior registration.
type Loader struct {
	dir       string
	factories FactorySet
	registry  *flow.Registry
	log       zerolog.Logger
}

// NewLoader creates a loader for the directory.
func NewLoader(dir string, factories FactorySet, registry *flow.Registry, log zerolog.Logger) *Loader {
	return &Loader{
		dir:       dir,
		factories: factories,
		registry:  registry,
		log:       log.With().Str("component", "plugin-loader").Logger(),
	}
}

// Load scans the directory once and registers every declared executor.
// It returns the number of executors registered. A missing directory is
// not an error; it simply yields zero.
func (l *Loader) Load() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.log.Debug().Str("directory", l.dir).Msg("plugin directory absent")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read plugin directory %s: %w", l.dir, err)
	}

	var manifests []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".plugin.json") {
			continue
		}
		manifests = append(manifests, entry.Name())
	}
	sort.Strings(manifests)

	loaded := 0
	for _, name := range manifests {
		n, err := l.loadManifest(filepath.Join(l.dir, name))
		if err != nil {
			l.log.Warn().Str("manifest", name).Err(err).Msg("plugin artifact skipped")
			continue
		}
		loaded += n
	}
	return loaded, nil
}

// Reload re-scans the directory. Executors registered by earlier loads
// stay registered; manifests seen again override their own entries.
func (l *Loader) Reload() (int, error) {
	return l.Load()
}

func (l *Loader) loadManifest(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return 0, &flow.DataParsingError{Field: "manifest", Message: "invalid plugin manifest", Cause: err}
	}

	loaded := 0
	for _, spec := range manifest.Executors {
		if err := l.register(manifest.Name, spec); err != nil {
			l.log.Warn().
				Str("plugin", manifest.Name).
				Str("nodeType", spec.NodeType).
				Err(err).
				Msg("executor skipped")
			continue
		}
		loaded++
	}
	return loaded, nil
}

func (l *Loader) register(pluginName string, spec ExecutorSpec) error {
	if spec.NodeType == "" {
		return fmt.Errorf("executor spec missing nodeType")
	}
	factory, ok := l.factories[spec.Factory]
	if !ok {
		return fmt.Errorf("unknown factory %q", spec.Factory)
	}

	executor, err := factory(spec.Config)
	if err != nil {
		return fmt.Errorf("factory %q failed: %w", spec.Factory, err)
	}

	wrapped := executor
	if executor.NodeType() != spec.NodeType {
		wrapped = renamedExecutor{Executor: executor, nodeType: spec.NodeType}
	}

	if existed := l.registry.Replace(wrapped); existed {
		l.log.Warn().
			Str("plugin", pluginName).
			Str("nodeType", spec.NodeType).
			Msg("node type collision, prior registration overridden")
	} else {
		l.log.Info().
			Str("plugin", pluginName).
			Str("nodeType", spec.NodeType).
			Msg("executor registered")
	}
	return nil
}

// renamedExecutor registers a factory-produced executor under the
// manifest's node type instead of the factory's default.
type renamedExecutor struct {
	flow.Executor
	nodeType string
}

func (r renamedExecutor) NodeType() string { return r.nodeType }
