// Package settings gives the raw string map carried in cluster.State
// typed, scope-tagged semantics (§6 "Settings are typed, scope-tagged
// {NodeScope, IndexScope, Dynamic, Exposed}"), grounded on the
// teacher's Config structs adapted to a registry instead of a single
// static struct, since settings here propagate at runtime via cluster
// state rather than being fixed at process start.
package settings

import (
	"fmt"
	"strconv"

	"github.com/cuemby/warrensql/internal/cluster"
)

// Scope is where a setting applies.
type Scope int

const (
	NodeScope Scope = iota
	IndexScope
)

func (s Scope) String() string {
	if s == IndexScope {
		return "index"
	}
	return "node"
}

// Setting describes one recognized option: its scope, whether it can
// change at runtime, and whether it's surfaced to clients.
type Setting struct {
	Name     string
	Scope    Scope
	Dynamic  bool
	Exposed  bool
	Default  string
}

// Registry is the set of settings the core recognizes "by semantics,
// not by name" (§6): the well-known options below plus whatever a
// deployment adds.
type Registry struct {
	byName map[string]Setting
}

// NewRegistry builds a registry seeded with the core's well-known
// settings (§6): awareness attributes, block levels, path.data/logs/
// repo, discovery probe interval, close-protocol ack timeout.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Setting)}
	for _, s := range []Setting{
		{Name: "cluster.routing.awareness.attributes", Scope: NodeScope, Dynamic: true, Exposed: true},
		{Name: "index.blocks.read_only", Scope: IndexScope, Dynamic: true, Exposed: true, Default: "false"},
		{Name: "path.data", Scope: NodeScope, Dynamic: false, Exposed: false},
		{Name: "path.logs", Scope: NodeScope, Dynamic: false, Exposed: false},
		{Name: "path.repo", Scope: NodeScope, Dynamic: false, Exposed: false},
		{Name: "discovery.find_peers_interval", Scope: NodeScope, Dynamic: true, Exposed: true, Default: "1s"},
		{Name: "cluster.close_protocol.ack_timeout", Scope: IndexScope, Dynamic: true, Exposed: true, Default: "30s"},
	} {
		r.byName[s.Name] = s
	}
	return r
}

func (r *Registry) Register(s Setting) {
	r.byName[s.Name] = s
}

func (r *Registry) Lookup(name string) (Setting, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Get reads name out of state.Settings, validating it's recognized and
// falling back to the registered default.
func (r *Registry) Get(state cluster.State, name string) (string, error) {
	setting, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("settings: %q is not a recognized setting", name)
	}
	if v, ok := state.Settings.Get(name); ok {
		return v, nil
	}
	return setting.Default, nil
}

// GetBool is a typed convenience over Get for boolean-valued settings
// (e.g. index.blocks.read_only).
func (r *Registry) GetBool(state cluster.State, name string) (bool, error) {
	v, err := r.Get(state, name)
	if err != nil {
		return false, err
	}
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// Set validates name/value against the registry (existence, dynamic-
// ness) and stages the write on the given builder; the caller commits
// via cluster.Builder.Build and publishes through internal/fsm.
func (r *Registry) Set(b *cluster.SettingsBuilder, current cluster.State, name, value string) error {
	setting, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("settings: %q is not a recognized setting", name)
	}
	if !setting.Dynamic {
		if _, exists := current.Settings.Get(name); exists {
			return fmt.Errorf("settings: %q is not dynamic and is already set; requires a restart to change", name)
		}
	}
	b.Put(name, value)
	return nil
}
