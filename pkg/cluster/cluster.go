package cluster

import (
	"errors"
	"fmt"

	"github.com/moonwalker/searchindex/pkg/config"
)

var (
	ErrClusterNotFound = errors.New("cluster not found")
	ErrInvalidCluster  = errors.New("invalid cluster")
	ErrNoDefault       = errors.New("no default cluster among active clusters")
	ErrManyDefaults    = errors.New("more than one default cluster among active clusters")
)

type Cluster struct {
	Key     string
	URI     string
	Schema  string
	Default bool
}

// Active reports whether the cluster has an endpoint in this environment.
func (c Cluster) Active() bool {
	return c.URI != ""
}

// Registry holds the configured clusters. It is immutable once built.
type Registry struct {
	active []Cluster
	byKey  map[string]Cluster
	def    Cluster
}

func New(clusters []Cluster) (*Registry, error) {
	r := &Registry{
		byKey: make(map[string]Cluster, len(clusters)),
	}

	defaults := 0
	for _, c := range clusters {
		r.byKey[c.Key] = c
		if !c.Active() {
			continue
		}
		r.active = append(r.active, c)
		if c.Default {
			r.def = c
			defaults++
		}
	}

	if len(r.active) > 0 {
		switch {
		case defaults == 0:
			return nil, ErrNoDefault
		case defaults > 1:
			return nil, ErrManyDefaults
		}
	}
	return r, nil
}

// FromConfig builds a registry from the clusters section of the config.
func FromConfig(cfgs []config.ClusterConfig) (*Registry, error) {
	clusters := make([]Cluster, 0, len(cfgs))
	for _, c := range cfgs {
		clusters = append(clusters, Cluster{
			Key:     c.Key,
			URI:     c.URI,
			Schema:  c.Schema,
			Default: c.Default,
		})
	}
	return New(clusters)
}

// Active returns the clusters with an endpoint, in configuration order.
func (r *Registry) Active() []Cluster {
	out := make([]Cluster, len(r.active))
	copy(out, r.active)
	return out
}

func (r *Registry) Default() Cluster {
	return r.def
}

func (r *Registry) Get(key string) (Cluster, error) {
	c, ok := r.byKey[key]
	if !ok {
		return Cluster{}, fmt.Errorf("%w: %s", ErrClusterNotFound, key)
	}
	return c, nil
}

// Validate checks a user supplied cluster key against the active set.
func (r *Registry) Validate(key string) error {
	for _, c := range r.active {
		if c.Key == key {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidCluster, key)
}

func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.active))
	for _, c := range r.active {
		keys = append(keys, c.Key)
	}
	return keys
}

func (r *Registry) Count() int {
	return len(r.active)
}
