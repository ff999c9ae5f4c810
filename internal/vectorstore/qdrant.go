package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"

	"ragengine/internal/ragerr"
)

// payloadOriginalID is the payload field used to recover the caller's
// original string ID when it is not itself a valid UUID (Qdrant point IDs
// must be numeric or UUID).
const payloadOriginalID = "_original_id"

// QdrantManager resolves one Qdrant collection per KB, named
// "kb_<kbID>", creating it on first use.
type QdrantManager struct {
	client *qdrant.Client
	mu     sync.Mutex
	known  map[string]*qdrantStore
}

// NewQdrantManager wraps an already-constructed Qdrant client.
func NewQdrantManager(client *qdrant.Client) *QdrantManager {
	return &QdrantManager{client: client, known: make(map[string]*qdrantStore)}
}

func collectionName(kbID string) string { return "kb_" + kbID }

func (m *QdrantManager) Collection(ctx context.Context, kbID string, dimension int) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := collectionName(kbID)
	if s, ok := m.known[name]; ok {
		return s, nil
	}
	if err := m.ensureCollection(ctx, name, dimension); err != nil {
		return nil, err
	}
	s := &qdrantStore{client: m.client, collection: name, dim: dimension}
	m.known[name] = s
	return s, nil
}

func (m *QdrantManager) DropCollection(ctx context.Context, kbID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := collectionName(kbID)
	delete(m.known, name)
	if err := m.client.DeleteCollection(ctx, name); err != nil {
		return ragerr.New(ragerr.KindDependency, "vectorstore.QdrantManager.DropCollection", err)
	}
	return nil
}

func (m *QdrantManager) ensureCollection(ctx context.Context, name string, dim int) error {
	exists, err := m.client.CollectionExists(ctx, name)
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "vectorstore.ensureCollection", err)
	}
	if exists {
		return nil
	}
	err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "vectorstore.ensureCollection", err)
	}
	return nil
}

type qdrantStore struct {
	client     *qdrant.Client
	collection string
	dim        int
}

func (s *qdrantStore) Dimension() int { return s.dim }

func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewID(id)
	}
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (s *qdrantStore) Upsert(ctx context.Context, records []Record) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != s.dim {
			return dimensionMismatch("vectorstore.Qdrant.Upsert", s.dim, len(r.Vector))
		}
		payload := map[string]any{payloadOriginalID: r.ID}
		for k, v := range r.Metadata {
			payload[k] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "vectorstore.Qdrant.Upsert", err)
	}
	return nil
}

func (s *qdrantStore) Delete(ctx context.Context, ids []string) error {
	pts := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pts = append(pts, pointID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pts...),
	})
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "vectorstore.Qdrant.Delete", err)
	}
	return nil
}

func (s *qdrantStore) Search(ctx context.Context, query []float32, k int, filter map[string]string) ([]Result, error) {
	if len(query) != s.dim {
		return nil, dimensionMismatch("vectorstore.Qdrant.Search", s.dim, len(query))
	}
	if k <= 0 {
		k = 10
	}
	var qf *qdrant.Filter
	if len(filter) > 0 {
		conds := make([]*qdrant.Condition, 0, len(filter))
		for key, val := range filter {
			conds = append(conds, qdrant.NewMatch(key, val))
		}
		qf = &qdrant.Filter{Must: conds}
	}
	limit := uint64(k)
	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(query),
		Filter:         qf,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "vectorstore.Qdrant.Search", err)
	}
	out := make([]Result, 0, len(resp))
	for _, p := range resp {
		md := make(map[string]string)
		var origID string
		for k, v := range p.GetPayload() {
			s := v.GetStringValue()
			if k == payloadOriginalID {
				origID = s
				continue
			}
			md[k] = s
		}
		if origID == "" {
			origID = fmt.Sprintf("%v", p.GetId())
		}
		// Distance_Euclid collections score hits by the raw Euclidean
		// distance, not its square; Similarity expects a squared L2
		// distance, matching the memory backend's squaredL2.
		d := float64(p.GetScore())
		out = append(out, Result{ID: origID, Score: Similarity(d * d), Metadata: md})
	}
	return out, nil
}

var _ Manager = (*QdrantManager)(nil)
