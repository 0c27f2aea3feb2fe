package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/buntythecoder/trademaster-broker-auth-service-sub001/internal/audit/domain"
)

type fakeRepo struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeRepo) Create(_ context.Context, e *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeRepo) GetByID(context.Context, string) (*domain.Event, error) { return nil, nil }

func (f *fakeRepo) ListByUser(context.Context, string, int32, int32) ([]*domain.Event, error) {
	return nil, nil
}

func (f *fakeRepo) snapshot() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, len(f.events))
	copy(out, f.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRecordAssignsIdentityAndTimestamp(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo, nil)

	rec.Record(context.Background(), domain.Event{
		CorrelationID: "corr-1",
		UserID:        "user-1",
		Action:        domain.ActionSessionCreate,
		Outcome:       "success",
	})

	waitFor(t, func() bool { return len(repo.snapshot()) == 1 })
	got := repo.snapshot()[0]
	if got.ID == "" {
		t.Fatal("event id not assigned")
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("event timestamp not assigned")
	}
	if got.CorrelationID != "corr-1" || got.Action != domain.ActionSessionCreate {
		t.Fatalf("event fields lost: %+v", got)
	}
}

func TestRecordDetachedFromRequestCancellation(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.AuthOutcome(ctx, "corr-2", "user-1", "ZERODHA", "10.0.0.5", "success", "")

	waitFor(t, func() bool { return len(repo.snapshot()) == 1 })
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var rec *Recorder
	rec.Record(context.Background(), domain.Event{Action: domain.ActionAccessDenied})
	rec.AccessDenied(context.Background(), "c", "u", "reason")
	rec.RiskFlagged(context.Background(), "c", "u", 55)
	rec.RiskBlocked(context.Background(), "c", "u", 90)
}

func TestSinkHelpersShapeEvents(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo, nil)
	ctx := context.Background()

	rec.AccessDenied(ctx, "corr-3", "user-1", "access policy denied the request")
	rec.RiskBlocked(ctx, "corr-3", "user-1", 80)

	waitFor(t, func() bool { return len(repo.snapshot()) == 2 })
	byAction := map[string]domain.Event{}
	for _, e := range repo.snapshot() {
		byAction[e.Action] = e
	}
	denied, ok := byAction[domain.ActionAccessDenied]
	if !ok || denied.Outcome != "denied" || denied.Detail == "" {
		t.Fatalf("denied event malformed: %+v", denied)
	}
	blocked, ok := byAction[domain.ActionRiskBlocked]
	if !ok || blocked.RiskScore != 80 {
		t.Fatalf("blocked event malformed: %+v", blocked)
	}
}
