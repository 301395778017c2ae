package elastic

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/moonwalker/searchindex/pkg/cluster"
)

// Factory opens a connection to a cluster.
type Factory func(cluster.Cluster) (Conn, error)

// Pool hands out one connection per cluster key, created on first use.
type Pool struct {
	registry *cluster.Registry
	factory  Factory

	mu    sync.RWMutex
	conns map[string]Conn
	group singleflight.Group
}

func NewPool(registry *cluster.Registry, opts Options) *Pool {
	return NewPoolWithFactory(registry, func(c cluster.Cluster) (Conn, error) {
		return NewClient(c, opts)
	})
}

func NewPoolWithFactory(registry *cluster.Registry, factory Factory) *Pool {
	return &Pool{
		registry: registry,
		factory:  factory,
		conns:    make(map[string]Conn),
	}
}

func (p *Pool) Registry() *cluster.Registry {
	return p.registry
}

func (p *Pool) Conn(key string) (Conn, error) {
	p.mu.RLock()
	conn, ok := p.conns[key]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	c, err := p.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if !c.Active() {
		return nil, fmt.Errorf("%w: %s has no endpoint", cluster.ErrInvalidCluster, key)
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		p.mu.RLock()
		existing, ok := p.conns[key]
		p.mu.RUnlock()
		if ok {
			return existing, nil
		}

		conn, err := p.factory(c)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.conns[key] = conn
		p.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Conn), nil
}

// Default returns the connection to the default cluster.
func (p *Pool) Default() (Conn, error) {
	return p.Conn(p.registry.Default().Key)
}
