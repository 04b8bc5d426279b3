// Package agents tracks the support agents currently connected to a session.
package agents

import (
	"sort"
	"sync"

	"github.com/petervdpas/goassist/internal/lease"
)

type Agent struct {
	ID   string         `json:"id"`
	Name string         `json:"name,omitempty"`
	Info map[string]any `json:"info,omitempty"`
}

type entry struct {
	agent      Agent
	disconnect *lease.Lease
}

// Registry owns the connected agents and each agent's disconnect hook.
type Registry struct {
	onConnect lease.Func

	mu     sync.Mutex
	agents map[string]*entry
}

// NewRegistry creates an empty registry. onConnect runs once per newly seen
// agent id; its cleanup runs when that agent is removed.
func NewRegistry(onConnect lease.Func) *Registry {
	return &Registry{
		onConnect: onConnect,
		agents:    make(map[string]*entry),
	}
}

// Add records an agent. It reports whether id was not known before; only a
// new id runs the connect hook. Info for a known id is refreshed.
func (r *Registry) Add(id string, info map[string]any) bool {
	r.mu.Lock()
	if e, ok := r.agents[id]; ok {
		if info != nil {
			e.agent.Info = info
			if name, _ := info["name"].(string); name != "" {
				e.agent.Name = name
			}
		}
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	// The hook runs unlocked: it belongs to the embedding application.
	l := lease.Acquire("agent-connect", r.onConnect)

	a := Agent{ID: id, Info: info}
	if name, _ := info["name"].(string); name != "" {
		a.Name = name
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; ok {
		l.Release()
		return false
	}
	r.agents[id] = &entry{agent: a, disconnect: l}
	return true
}

// Remove drops an agent and runs its disconnect hook.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.agents[id]
	delete(r.agents, id)
	r.mu.Unlock()

	if ok {
		e.disconnect.Release()
	}
	return ok
}

// ResetAll forgets every agent without running disconnect hooks. The backend
// reporting zero agents is an authoritative reset, not a set of departures.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	r.agents = make(map[string]*entry)
	r.mu.Unlock()
}

// ReleaseAll forgets every agent and runs each disconnect hook.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	old := r.agents
	r.agents = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range old {
		e.disconnect.Release()
	}
}

func (r *Registry) SetName(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok {
		e.agent.Name = name
	}
}

func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	return e.agent, true
}

func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// IDs returns the connected agent ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

func (r *Registry) IsEmpty() bool { return r.Len() == 0 }
