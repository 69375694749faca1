package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/WessleyAI/diagtrace/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- Mocks ---

type mockPoints struct {
	upserted   *pb.UpsertPoints
	upsertErr  error
	deleted    *pb.DeletePoints
	deleteErr  error
	searched   *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleted = in
	return &pb.PointsOperationResponse{}, m.deleteErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searched = in
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	created   *pb.CreateCollection
	createErr error
	deleteErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}

func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}

const sessionA = "6f1c2d52-3b0a-5b8e-9a43-2f8e1c7d9a10"

func scored(id string, score float32, module, cat string) *pb.ScoredPoint {
	return &pb.ScoredPoint{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
		Score: score,
		Payload: map[string]*pb.Value{
			"session_id":    stringValue(id),
			"module":        stringValue(module),
			"root_category": stringValue(cat),
		},
	}
}

// --- Tests ---

func TestEnsureCollection(t *testing.T) {
	tests := []struct {
		name       string
		cols       *mockCollections
		wantCreate bool
		wantErr    bool
	}{
		{"exists", &mockCollections{listResp: &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{{Name: "sessions"}}}}, false, false},
		{"creates", &mockCollections{listResp: &pb.ListCollectionsResponse{}}, true, false},
		{"list error", &mockCollections{listErr: errors.New("rpc fail")}, false, true},
		{"create error", &mockCollections{listResp: &pb.ListCollectionsResponse{}, createErr: errors.New("create fail")}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := NewWithClients(&mockPoints{}, tt.cols, "sessions")
			err := vs.EnsureCollection(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (tt.cols.created != nil) != tt.wantCreate {
				t.Fatalf("created = %v", tt.cols.created)
			}
			if tt.cols.created != nil && tt.cols.created.GetVectorsConfig().GetParams().GetSize() != uint64(Dims) {
				t.Errorf("size = %d", tt.cols.created.GetVectorsConfig().GetParams().GetSize())
			}
		})
	}
}

func TestIndex(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "sessions")
	r := report(domain.CategoryPowerVoltage, domain.CategorySecurity)
	r.SessionID = sessionA

	if err := vs.Index(context.Background(), "a.log", r); err != nil {
		t.Fatal(err)
	}
	if len(pts.upserted.GetPoints()) != 1 {
		t.Fatalf("upserted %d points", len(pts.upserted.GetPoints()))
	}
	p := pts.upserted.GetPoints()[0]
	if p.GetId().GetUuid() != sessionA {
		t.Errorf("point id = %v", p.GetId())
	}
	if got := len(p.GetVectors().GetVector().GetData()); got != Dims {
		t.Errorf("vector width %d", got)
	}
	if p.GetPayload()["root_category"].GetStringValue() != "power_voltage" || p.GetPayload()["source"].GetStringValue() != "a.log" {
		t.Errorf("payload = %v", p.GetPayload())
	}
}

func TestIndexSkipsAndRejects(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "sessions")

	empty := &domain.RootCauseReport{SessionID: sessionA}
	if err := vs.Index(context.Background(), "", empty); err != nil || pts.upserted != nil {
		t.Errorf("session without root should be skipped: %v", err)
	}

	r := report(domain.CategorySecurity)
	r.SessionID = "not-a-uuid"
	if err := vs.Index(context.Background(), "", r); err == nil {
		t.Error("expected error for non-uuid session id")
	}
}

func TestSimilar(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		scored(sessionA, 1, "754", "power_voltage"),
		scored("11111111-1111-5111-8111-111111111111", 0.93, "754", "power_voltage"),
		scored("22222222-2222-5222-8222-222222222222", 0.41, "754", "security"),
	}}}
	vs := NewWithClients(pts, &mockCollections{}, "sessions")
	r := report(domain.CategoryPowerVoltage)
	r.SessionID = sessionA

	got, err := vs.Similar(context.Background(), r, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].SessionID != "11111111-1111-5111-8111-111111111111" || got[0].Score != 0.93 {
		t.Errorf("got %+v", got)
	}
	if pts.searched.GetLimit() != 2 {
		t.Errorf("limit = %d, want topK+1", pts.searched.GetLimit())
	}
	must := pts.searched.GetFilter().GetMust()
	if len(must) != 1 || must[0].GetField().GetMatch().GetKeyword() != "754" {
		t.Errorf("filter = %v", pts.searched.GetFilter())
	}
}

func TestSimilarError(t *testing.T) {
	vs := NewWithClients(&mockPoints{searchErr: errors.New("down")}, &mockCollections{}, "sessions")
	if _, err := vs.Similar(context.Background(), report(domain.CategorySecurity), 3, false); err == nil {
		t.Fatal("expected error")
	}
}

func TestRemove(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "sessions")
	if err := vs.Remove(context.Background(), sessionA); err != nil {
		t.Fatal(err)
	}
	ids := pts.deleted.GetPoints().GetPoints().GetIds()
	if len(ids) != 1 || ids[0].GetUuid() != sessionA {
		t.Errorf("deleted = %v", ids)
	}
}

func TestCloseWithoutConn(t *testing.T) {
	if err := NewWithClients(nil, nil, "x").Close(); err != nil {
		t.Fatal(err)
	}
}
