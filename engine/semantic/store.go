// Package semantic indexes report signatures in Qdrant and finds past
// sessions that failed the same way.
package semantic

import (
	"context"
	"fmt"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a store over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(Dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	if _, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection}); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Index stores the report's signature under its session ID. Sessions with
// no errors carry no signal and are skipped.
func (v *VectorStore) Index(ctx context.Context, source string, r *domain.RootCauseReport) error {
	if r == nil || r.Chain.Root == nil {
		return nil
	}
	id, err := pointID(r.SessionID)
	if err != nil {
		return err
	}

	wait := true
	_, err = v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: id,
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: Signature(r)}},
			},
			Payload: map[string]*pb.Value{
				"session_id":    stringValue(r.SessionID),
				"module":        stringValue(r.PrimaryModule.Address),
				"root_category": stringValue(string(r.RootCategory())),
				"source":        stringValue(source),
				"confidence":    {Kind: &pb.Value_DoubleValue{DoubleValue: r.Confidence}},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("semantic: index %s: %w", r.SessionID, err)
	}
	return nil
}

// Remove deletes a session's point.
func (v *VectorStore) Remove(ctx context.Context, sessionID string) error {
	id, err := pointID(sessionID)
	if err != nil {
		return err
	}
	wait := true
	_, err = v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{id}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: remove %s: %w", sessionID, err)
	}
	return nil
}

// Similar returns up to topK past sessions closest to r, excluding r
// itself. When sameModule is set only sessions that targeted the same
// module are considered.
func (v *VectorStore) Similar(ctx context.Context, r *domain.RootCauseReport, topK int, sameModule bool) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         Signature(r),
		Limit:          uint64(topK + 1),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if sameModule && r.PrimaryModule.Address != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch("module", r.PrimaryModule.Address)}}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	out := make([]Match, 0, topK)
	for _, p := range resp.GetResult() {
		m := matchFromPayload(p.GetPayload())
		if m.SessionID == "" {
			m.SessionID = p.GetId().GetUuid()
		}
		if m.SessionID == r.SessionID {
			continue
		}
		m.Score = p.GetScore()
		out = append(out, m)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func matchFromPayload(payload map[string]*pb.Value) Match {
	return Match{
		SessionID:    payload["session_id"].GetStringValue(),
		Module:       payload["module"].GetStringValue(),
		RootCategory: domain.Category(payload["root_category"].GetStringValue()),
		Confidence:   payload["confidence"].GetDoubleValue(),
		Source:       payload["source"].GetStringValue(),
	}
}

// pointID requires the session ID to be a UUID, which analyze.SessionID
// guarantees.
func pointID(sessionID string) (*pb.PointId, error) {
	u, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("semantic: session id %q is not a uuid: %w", sessionID, err)
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u.String()}}, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
