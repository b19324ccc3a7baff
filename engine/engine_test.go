package engine

import (
	"context"
	"testing"
	"time"

	"github.com/fluxforge/syncengine/plan"
	"github.com/fluxforge/syncengine/synctask"
	"github.com/fluxforge/syncengine/worker"
	"github.com/google/uuid"
)

type fakeRepo struct {
	plans     []plan.Plan
	assigned  map[uuid.UUID]bool
	cancelled map[uuid.UUID]bool
}

func newFakeRepo(plans ...plan.Plan) *fakeRepo {
	return &fakeRepo{plans: plans, assigned: map[uuid.UUID]bool{}, cancelled: map[uuid.UUID]bool{}}
}

func (f *fakeRepo) Load(ctx context.Context) ([]plan.Plan, error) { return f.plans, nil }
func (f *fakeRepo) MarkAssigned(ctx context.Context, planID uuid.UUID) error {
	f.assigned[planID] = true
	return nil
}
func (f *fakeRepo) MarkCancelled(ctx context.Context, planID uuid.UUID) error {
	f.cancelled[planID] = true
	return nil
}

func mustTasks(t *testing.T, datasetID uuid.UUID, n int) []*synctask.SyncTask {
	t.Helper()
	out := make([]*synctask.SyncTask, n)
	for i := range out {
		spec, err := synctask.NewRequestSpec("https://example.com/data", "GET", nil, nil)
		if err != nil {
			t.Fatalf("NewRequestSpec: %v", err)
		}
		out[i] = synctask.New(datasetID, uuid.New(), spec)
	}
	return out
}

func TestEngineAssignRunsPlanToCompletion(t *testing.T) {
	datasetID := uuid.New()
	p := plan.Static{PlanID: uuid.New(), Dataset: datasetID, Mode: plan.HttpAPI, Tasks: mustTasks(t, datasetID, 2)}
	repo := newFakeRepo(p)

	calls := make(chan *synctask.SyncTask, 8)
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.HTTPExecutor = func() worker.Executor { return &recordingExecutor{calls: calls} }

	eng := New(repo, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	eng.Start(ctx)

	if err := eng.Assign(ctx); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 2 tasks executed", i)
		}
	}

	if !repo.assigned[p.PlanID] {
		t.Fatal("expected plan to be marked assigned")
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

type recordingExecutor struct{ calls chan *synctask.SyncTask }

func (r *recordingExecutor) Execute(ctx context.Context, t *synctask.SyncTask) worker.Result {
	r.calls <- t
	return worker.Result{Kind: worker.ResultCompleted, TaskID: t.ID, CompletedAt: time.Now()}
}
