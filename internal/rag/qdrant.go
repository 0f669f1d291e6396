package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"ShopScout/server/internal/config"
	"ShopScout/server/internal/interfaces"
)

// QdrantIndex stores turn embeddings in a qdrant collection, searchable per
// user. It implements interfaces.VectorIndex.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
}

func NewQdrantIndex(cfg config.QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
	}, nil
}

// EnsureCollection creates the turn collection if it does not exist.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// IndexTurn upserts a turn embedding with enough payload to rebuild the turn
// at search time.
func (q *QdrantIndex) IndexTurn(ctx context.Context, userID string, turn interfaces.Turn, vector []float64) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(turn.ID),
		Vectors: qdrant.NewVectors(toFloat32(vector)...),
		Payload: qdrant.NewValueMap(map[string]any{
			"user_id":    userID,
			"session_id": turn.SessionID,
			"role":       string(turn.Role),
			"text":       turn.Text,
			"timestamp":  turn.Timestamp,
		}),
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert turn point: %w", err)
	}
	return nil
}

// Search returns the most similar turns for the user, best first.
func (q *QdrantIndex) Search(ctx context.Context, userID string, vector []float64, topK int) ([]interfaces.ScoredTurn, error) {
	limit := uint64(topK)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(toFloat32(vector)...),
		Limit:          &limit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("user_id", userID),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search turns: %w", err)
	}

	results := make([]interfaces.ScoredTurn, 0, len(points))
	for _, p := range points {
		turn, ok := payloadToTurn(p.Id, p.Payload)
		if !ok {
			continue
		}
		results = append(results, interfaces.ScoredTurn{
			TurnID: turn.ID,
			Score:  float64(p.Score),
			Turn:   turn,
		})
	}
	return results, nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func payloadToTurn(id *qdrant.PointId, payload map[string]*qdrant.Value) (interfaces.Turn, bool) {
	text, ok := payload["text"]
	if !ok {
		return interfaces.Turn{}, false
	}

	turn := interfaces.Turn{
		ID:   id.GetUuid(),
		Text: text.GetStringValue(),
	}
	if v, ok := payload["session_id"]; ok {
		turn.SessionID = v.GetStringValue()
	}
	if v, ok := payload["role"]; ok {
		turn.Role = interfaces.Role(v.GetStringValue())
	}
	if v, ok := payload["timestamp"]; ok {
		turn.Timestamp = v.GetIntegerValue()
	}
	return turn, true
}

func toFloat32(vector []float64) []float32 {
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(v)
	}
	return out
}
