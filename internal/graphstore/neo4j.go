package graphstore

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"ragengine/internal/ragerr"
)

// maxBatchSize bounds how many rows go through one UNWIND per transaction.
const maxBatchSize = 1000

// Neo4j implements Store against a Neo4j driver, one session per call as
// the reference repository pattern does, scoping every node and edge by a
// kb_id property rather than by label or database.
type Neo4j struct {
	driver neo4j.DriverWithContext
}

// NewNeo4j wraps an already-constructed driver.
func NewNeo4j(driver neo4j.DriverWithContext) *Neo4j {
	return &Neo4j{driver: driver}
}

func (n *Neo4j) session(ctx context.Context) neo4j.SessionWithContext {
	return n.driver.NewSession(ctx, neo4j.SessionConfig{})
}

func (n *Neo4j) UpsertEntities(ctx context.Context, entities []Entity) error {
	for _, batch := range chunkEntities(entities, maxBatchSize) {
		if err := n.upsertEntityBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (n *Neo4j) upsertEntityBatch(ctx context.Context, batch []Entity) error {
	sess := n.session(ctx)
	defer sess.Close(ctx)

	rows := make([]map[string]any, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, map[string]any{
			"id":         e.ID,
			"kb_id":      e.KBID,
			"name":       e.Name,
			"type":       e.Type,
			"properties": e.Properties,
		})
	}
	const cypher = `
UNWIND $rows AS row
MERGE (e:Entity {id: row.id, kb_id: row.kb_id})
SET e.name = row.name, e.type = row.type, e += row.properties`
	_, err := sess.Run(ctx, cypher, map[string]any{"rows": rows})
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "graphstore.Neo4j.UpsertEntities", err)
	}
	return nil
}

func (n *Neo4j) UpsertRelations(ctx context.Context, relations []Relation) error {
	for _, batch := range chunkRelations(relations, maxBatchSize) {
		if err := n.upsertRelationBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (n *Neo4j) upsertRelationBatch(ctx context.Context, batch []Relation) error {
	sess := n.session(ctx)
	defer sess.Close(ctx)

	rows := make([]map[string]any, 0, len(batch))
	for _, r := range batch {
		rows = append(rows, map[string]any{
			"kb_id":      r.KBID,
			"source":     r.SourceID,
			"target":     r.TargetID,
			"type":       r.Type,
			"properties": r.Properties,
		})
	}
	const cypher = `
UNWIND $rows AS row
MATCH (s:Entity {id: row.source, kb_id: row.kb_id})
MATCH (t:Entity {id: row.target, kb_id: row.kb_id})
MERGE (s)-[rel:RELATES {type: row.type}]->(t)
SET rel += row.properties`
	_, err := sess.Run(ctx, cypher, map[string]any{"rows": rows})
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "graphstore.Neo4j.UpsertRelations", err)
	}
	return nil
}

func (n *Neo4j) FindRelated(ctx context.Context, kbID string, seedIDs []string, maxHops int) ([]Neighbor, error) {
	if maxHops <= 0 {
		maxHops = 1
	}
	sess := n.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(`
MATCH (seed:Entity {kb_id: $kb_id})
WHERE seed.id IN $seed_ids
MATCH path = (seed)-[:RELATES*1..%d]-(found:Entity {kb_id: $kb_id})
WHERE NOT found.id IN $seed_ids
WITH found, path ORDER BY length(path)
WITH found, head(collect(path)) AS p
RETURN found.id AS id, found.name AS name, found.type AS type, found AS props, length(p) AS hops, last(relationships(p)).type AS relType`, maxHops)

	result, err := sess.Run(ctx, cypher, map[string]any{"kb_id": kbID, "seed_ids": toAnySlice(seedIDs)})
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "graphstore.Neo4j.FindRelated", err)
	}

	var out []Neighbor
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		name, _ := rec.Get("name")
		typ, _ := rec.Get("type")
		hops, _ := rec.Get("hops")
		relType, _ := rec.Get("relType")
		out = append(out, Neighbor{
			Entity: Entity{
				ID:   fmt.Sprintf("%v", id),
				KBID: kbID,
				Name: fmt.Sprintf("%v", name),
				Type: fmt.Sprintf("%v", typ),
			},
			Relation: fmt.Sprintf("%v", relType),
			Hops:     toInt(hops),
		})
	}
	if err := result.Err(); err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "graphstore.Neo4j.FindRelated", err)
	}
	return out, nil
}

func (n *Neo4j) GetEntity(ctx context.Context, kbID, id string) (Entity, bool, error) {
	sess := n.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (e:Entity {id: $id, kb_id: $kb_id}) RETURN e.name AS name, e.type AS type`,
		map[string]any{"id": id, "kb_id": kbID})
	if err != nil {
		return Entity{}, false, ragerr.New(ragerr.KindDependency, "graphstore.Neo4j.GetEntity", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return Entity{}, false, ragerr.New(ragerr.KindDependency, "graphstore.Neo4j.GetEntity", err)
		}
		return Entity{}, false, nil
	}
	rec := result.Record()
	name, _ := rec.Get("name")
	typ, _ := rec.Get("type")
	return Entity{ID: id, KBID: kbID, Name: fmt.Sprintf("%v", name), Type: fmt.Sprintf("%v", typ)}, true, nil
}

func (n *Neo4j) DeleteKB(ctx context.Context, kbID string) error {
	sess := n.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, `MATCH (e:Entity {kb_id: $kb_id}) DETACH DELETE e`, map[string]any{"kb_id": kbID})
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "graphstore.Neo4j.DeleteKB", err)
	}
	return nil
}

func chunkEntities(in []Entity, size int) [][]Entity {
	var out [][]Entity
	for i := 0; i < len(in); i += size {
		end := i + size
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[i:end])
	}
	return out
}

func chunkRelations(in []Relation, size int) [][]Relation {
	var out [][]Relation
	for i := 0; i < len(in); i += size {
		end := i + size
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[i:end])
	}
	return out
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

var _ Store = (*Neo4j)(nil)
