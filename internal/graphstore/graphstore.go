// Package graphstore implements GraphStore: entity/relation upsert with
// merge semantics and bounded multi-hop traversal, scoped per knowledge
// base via a kb_id property on every node and edge.
package graphstore

import "context"

// Entity is a graph node: Name/Type identify it for merge purposes within
// a KB, Properties carries arbitrary extracted attributes.
type Entity struct {
	ID         string
	KBID       string
	Name       string
	Type       string
	Properties map[string]any
}

// Relation is a directed, typed edge between two entities, scoped to the
// same KB as its endpoints.
type Relation struct {
	KBID       string
	SourceID   string
	TargetID   string
	Type       string
	Properties map[string]any
}

// Neighbor is one hop of a traversal result: the entity reached and the
// relation type that led there.
type Neighbor struct {
	Entity   Entity
	Relation string
	Hops     int
}

// Store is the GraphStore contract.
type Store interface {
	UpsertEntities(ctx context.Context, entities []Entity) error
	UpsertRelations(ctx context.Context, relations []Relation) error
	// FindRelated performs a bounded-depth traversal from seedIDs within a
	// single KB, returning every entity reached within maxHops hops,
	// deduplicated by entity ID with the smallest hop count kept.
	FindRelated(ctx context.Context, kbID string, seedIDs []string, maxHops int) ([]Neighbor, error)
	// GetEntity looks up a single entity by id within kbID. The bool
	// return is false, not an error, when the entity does not exist.
	GetEntity(ctx context.Context, kbID, id string) (Entity, bool, error)
	// DeleteKB removes every node and edge scoped to kbID.
	DeleteKB(ctx context.Context, kbID string) error
}
