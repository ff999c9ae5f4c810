package graphstore

import (
	"context"
	"sync"
)

// Memory is an in-process adjacency-map GraphStore, grounded on the same
// map-of-maps shape as the in-memory vector/search backends: a quick,
// dependency-free double for tests and small deployments.
type Memory struct {
	mu        sync.RWMutex
	entities  map[string]Entity            // id -> entity
	relations map[string][]Relation        // sourceID -> outgoing relations
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		entities:  make(map[string]Entity),
		relations: make(map[string][]Relation),
	}
}

func (m *Memory) UpsertEntities(_ context.Context, entities []Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		if existing, ok := m.entities[e.ID]; ok {
			merged := mergeProps(existing.Properties, e.Properties)
			e.Properties = merged
		}
		m.entities[e.ID] = e
	}
	return nil
}

func (m *Memory) UpsertRelations(_ context.Context, relations []Relation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range relations {
		list := m.relations[r.SourceID]
		replaced := false
		for i, existing := range list {
			if existing.TargetID == r.TargetID && existing.Type == r.Type {
				list[i].Properties = mergeProps(existing.Properties, r.Properties)
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, r)
		}
		m.relations[r.SourceID] = list
	}
	return nil
}

func (m *Memory) FindRelated(_ context.Context, kbID string, seedIDs []string, maxHops int) ([]Neighbor, error) {
	if maxHops <= 0 {
		maxHops = 1
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := make(map[string]Neighbor)
	frontier := make(map[string]struct{})
	for _, id := range seedIDs {
		frontier[id] = struct{}{}
	}
	visited := map[string]struct{}{}
	for _, id := range seedIDs {
		visited[id] = struct{}{}
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		next := make(map[string]struct{})
		for src := range frontier {
			for _, rel := range m.relations[src] {
				if rel.KBID != kbID {
					continue
				}
				if _, seen := visited[rel.TargetID]; seen {
					continue
				}
				ent, ok := m.entities[rel.TargetID]
				if !ok || ent.KBID != kbID {
					continue
				}
				if n, ok := best[rel.TargetID]; !ok || hop < n.Hops {
					best[rel.TargetID] = Neighbor{Entity: ent, Relation: rel.Type, Hops: hop}
				}
				next[rel.TargetID] = struct{}{}
			}
		}
		for id := range next {
			visited[id] = struct{}{}
		}
		frontier = next
	}

	out := make([]Neighbor, 0, len(best))
	for _, n := range best {
		out = append(out, n)
	}
	return out, nil
}

func (m *Memory) GetEntity(_ context.Context, kbID, id string) (Entity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok || e.KBID != kbID {
		return Entity{}, false, nil
	}
	return e, true, nil
}

func (m *Memory) DeleteKB(_ context.Context, kbID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entities {
		if e.KBID == kbID {
			delete(m.entities, id)
			delete(m.relations, id)
		}
	}
	for src, list := range m.relations {
		filtered := list[:0]
		for _, r := range list {
			if r.KBID != kbID {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) == 0 {
			delete(m.relations, src)
		} else {
			m.relations[src] = filtered
		}
	}
	return nil
}

func mergeProps(base, update map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

var _ Store = (*Memory)(nil)
