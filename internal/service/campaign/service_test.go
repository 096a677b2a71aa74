package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-campaign/internal/config"
	"github.com/acme/whatsapp-campaign/internal/domain"
	"github.com/acme/whatsapp-campaign/internal/queue"
	"github.com/acme/whatsapp-campaign/internal/repository"
	apperrors "github.com/acme/whatsapp-campaign/pkg/errors"
)

type fakeCampaignRepo struct {
	campaigns map[uuid.UUID]*domain.Campaign
	deleted   []uuid.UUID
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[uuid.UUID]*domain.Campaign)}
}

func (r *fakeCampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *fakeCampaignRepo) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := r.campaigns[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) Update(_ context.Context, c *domain.Campaign) error {
	if _, ok := r.campaigns[c.ID]; !ok {
		return apperrors.ErrNotFound
	}
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *fakeCampaignRepo) List(_ context.Context, _ *uuid.UUID, _ int) ([]*domain.Campaign, error) {
	out := make([]*domain.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeCampaignRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.campaigns[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.campaigns, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeCampaignRepo) SetTotalRecipients(_ context.Context, id uuid.UUID, total int64) error {
	r.campaigns[id].TotalRecipients = total
	return nil
}

func (r *fakeCampaignRepo) IncrementSent(_ context.Context, id uuid.UUID) error {
	r.campaigns[id].SentCount++
	return nil
}

func (r *fakeCampaignRepo) IncrementFailed(_ context.Context, id uuid.UUID) error {
	r.campaigns[id].FailedCount++
	return nil
}

func (r *fakeCampaignRepo) MarkFinished(_ context.Context, id uuid.UUID, finishedAt time.Time) (bool, error) {
	c, ok := r.campaigns[id]
	if !ok {
		return false, apperrors.ErrNotFound
	}
	if c.Status != domain.CampaignStatusRunning {
		return false, nil
	}
	c.Status = domain.CampaignStatusFinished
	c.FinishedAt = &finishedAt
	return true, nil
}

type fakeMessageRepo struct {
	messages map[uuid.UUID]*domain.Message
	order    []uuid.UUID
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[uuid.UUID]*domain.Message)}
}

func (r *fakeMessageRepo) BulkInsert(_ context.Context, msgs []*domain.Message) error {
	for _, m := range msgs {
		cp := *m
		r.messages[m.ID] = &cp
		r.order = append(r.order, m.ID)
	}
	return nil
}

func (r *fakeMessageRepo) Get(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	m, ok := r.messages[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMessageRepo) MarkSent(_ context.Context, id uuid.UUID, body string, sentAt time.Time) (bool, error) {
	m, ok := r.messages[id]
	if !ok || m.Status != domain.MessageStatusQueued {
		return false, nil
	}
	m.Status = domain.MessageStatusSent
	m.Body = body
	m.SentAt = &sentAt
	return true, nil
}

func (r *fakeMessageRepo) MarkFailed(_ context.Context, id uuid.UUID, body, errorCode, errorMessage string) (bool, error) {
	m, ok := r.messages[id]
	if !ok || m.Status != domain.MessageStatusQueued {
		return false, nil
	}
	m.Status = domain.MessageStatusFailed
	m.Body = body
	m.ErrorCode = errorCode
	m.ErrorMessage = domain.TruncateError(errorMessage)
	return true, nil
}

func (r *fakeMessageRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID, _ int, _ string) ([]*domain.Message, error) {
	var out []*domain.Message
	for _, id := range r.order {
		if m := r.messages[id]; m.CampaignID == campaignID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) ListQueuedIDs(_ context.Context, campaignID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range r.order {
		if m := r.messages[id]; m.CampaignID == campaignID && m.Status == domain.MessageStatusQueued {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) DeleteByCampaign(_ context.Context, campaignID uuid.UUID) error {
	for id, m := range r.messages {
		if m.CampaignID == campaignID {
			delete(r.messages, id)
		}
	}
	return nil
}

type fakeRecipientRepo struct {
	recipients []*domain.Recipient
}

func (r *fakeRecipientRepo) BulkInsert(_ context.Context, recs []*domain.Recipient) error {
	r.recipients = append(r.recipients, recs...)
	return nil
}

func (r *fakeRecipientRepo) Get(_ context.Context, id uuid.UUID) (*domain.Recipient, error) {
	for _, rec := range r.recipients {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeRecipientRepo) ListEligible(_ context.Context, sourceID uuid.UUID) ([]*domain.Recipient, error) {
	var out []*domain.Recipient
	for _, rec := range r.recipients {
		if rec.SourceID == sourceID && rec.Eligible() {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeReceiptStore struct {
	receipts []repository.DeliveryReceipt
}

func (r *fakeReceiptStore) Append(_ context.Context, receipt repository.DeliveryReceipt) error {
	r.receipts = append(r.receipts, receipt)
	return nil
}

func (r *fakeReceiptStore) ListByCampaign(_ context.Context, _ uuid.UUID, _ int, _ []byte) ([]repository.DeliveryReceipt, []byte, error) {
	return r.receipts, nil, nil
}

type fakeEnqueuer struct {
	jobs []queue.SendJob
	err  error
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, job queue.SendJob) error {
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, job)
	return nil
}

type fakeSessionChecker struct {
	connected bool
	err       error
}

func (c *fakeSessionChecker) SessionConnected(_ context.Context, _ string) (bool, error) {
	return c.connected, c.err
}

type serviceFixture struct {
	svc        *Service
	campaigns  *fakeCampaignRepo
	messages   *fakeMessageRepo
	recipients *fakeRecipientRepo
	enqueuer   *fakeEnqueuer
	sessions   *fakeSessionChecker
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		campaigns:  newFakeCampaignRepo(),
		messages:   newFakeMessageRepo(),
		recipients: &fakeRecipientRepo{},
		enqueuer:   &fakeEnqueuer{},
		sessions:   &fakeSessionChecker{connected: true},
	}
	f.svc = NewService(
		f.campaigns,
		f.messages,
		f.recipients,
		&fakeReceiptStore{},
		f.enqueuer,
		f.sessions,
		config.ThrottleConfig{MinDelaySeconds: 2, MaxDelaySeconds: 10, DefaultDelaySeconds: 5},
		zap.NewNop(),
	)
	return f
}

func (f *serviceFixture) seedCampaign(t *testing.T, status domain.CampaignStatus, delaySeconds int) *domain.Campaign {
	t.Helper()
	c := &domain.Campaign{
		ID:           uuid.New(),
		Name:         "launch",
		SessionID:    "session-1",
		SourceID:     uuid.New(),
		Payload:      domain.Payload{Type: domain.MessageTypeText, Body: "Hi {{first_name}}"},
		DelaySeconds: delaySeconds,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := f.campaigns.Create(context.Background(), c); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return c
}

func (f *serviceFixture) seedRecipients(sourceID uuid.UUID, n int) {
	for i := 0; i < n; i++ {
		f.recipients.recipients = append(f.recipients.recipients, &domain.Recipient{
			ID:        uuid.New(),
			SourceID:  sourceID,
			Phone:     "5511999990000",
			Valid:     true,
			FirstName: "Lina",
		})
	}
}

func TestCreateClampsDelay(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{in: 0, want: 5},
		{in: 1, want: 2},
		{in: 4, want: 4},
		{in: 60, want: 10},
	}

	for _, tc := range cases {
		f := newServiceFixture()
		created, err := f.svc.Create(context.Background(), CreateCampaignInput{
			Name:         "launch",
			SessionID:    "session-1",
			SourceID:     uuid.New(),
			Payload:      domain.Payload{Type: domain.MessageTypeText, Body: "hello"},
			DelaySeconds: tc.in,
		})
		if err != nil {
			t.Fatalf("create with delay %d: %v", tc.in, err)
		}
		if created.DelaySeconds != tc.want {
			t.Errorf("delay %d: got %d, want %d", tc.in, created.DelaySeconds, tc.want)
		}
		if created.Status != domain.CampaignStatusPending {
			t.Errorf("delay %d: status %s, want pending", tc.in, created.Status)
		}
	}
}

func TestCreateRejectsInvalidPayload(t *testing.T) {
	f := newServiceFixture()
	_, err := f.svc.Create(context.Background(), CreateCampaignInput{
		Name:      "launch",
		SessionID: "session-1",
		SourceID:  uuid.New(),
		Payload:   domain.Payload{Type: domain.MessageTypePoll, PollQuestion: "q", PollOptions: []string{"only one"}},
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartSchedulesEvenOffsets(t *testing.T) {
	f := newServiceFixture()
	c := f.seedCampaign(t, domain.CampaignStatusPending, 4)
	f.seedRecipients(c.SourceID, 3)

	started, err := f.svc.Start(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if started.Status != domain.CampaignStatusRunning {
		t.Fatalf("status = %s, want running", started.Status)
	}
	if started.StartedAt == nil {
		t.Fatal("started_at not set")
	}
	if started.TotalRecipients != 3 {
		t.Fatalf("total_recipients = %d, want 3", started.TotalRecipients)
	}
	if len(f.enqueuer.jobs) != 3 {
		t.Fatalf("enqueued %d jobs, want 3", len(f.enqueuer.jobs))
	}

	base := *started.StartedAt
	for i, want := range []time.Duration{0, 4 * time.Second, 8 * time.Second} {
		got := f.enqueuer.jobs[i].DueAt.Sub(base)
		if got != want {
			t.Errorf("job %d offset = %s, want %s", i, got, want)
		}
	}

	if got := len(f.messages.messages); got != 3 {
		t.Fatalf("created %d messages, want 3", got)
	}
	for _, m := range f.messages.messages {
		if m.Status != domain.MessageStatusQueued {
			t.Errorf("message status = %s, want queued", m.Status)
		}
	}
}

func TestStartWithoutEligibleRecipientsFinishesImmediately(t *testing.T) {
	f := newServiceFixture()
	c := f.seedCampaign(t, domain.CampaignStatusPending, 4)

	started, err := f.svc.Start(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if started.Status != domain.CampaignStatusFinished {
		t.Fatalf("status = %s, want finished", started.Status)
	}
	if started.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}
	if len(f.enqueuer.jobs) != 0 {
		t.Fatalf("enqueued %d jobs for empty run", len(f.enqueuer.jobs))
	}

	stored, _ := f.campaigns.Get(context.Background(), c.ID)
	if stored.Status != domain.CampaignStatusFinished {
		t.Fatalf("persisted status = %s, want finished", stored.Status)
	}
}

func TestStartRejectsRunningCampaign(t *testing.T) {
	f := newServiceFixture()
	c := f.seedCampaign(t, domain.CampaignStatusRunning, 4)

	if _, err := f.svc.Start(context.Background(), c.ID); !errors.Is(err, apperrors.ErrNotStartable) {
		t.Fatalf("expected ErrNotStartable, got %v", err)
	}
	if len(f.enqueuer.jobs) != 0 {
		t.Fatalf("jobs enqueued for rejected start: %d", len(f.enqueuer.jobs))
	}
}

func TestStartRejectsDisconnectedSession(t *testing.T) {
	f := newServiceFixture()
	f.sessions.connected = false
	c := f.seedCampaign(t, domain.CampaignStatusPending, 4)
	f.seedRecipients(c.SourceID, 1)

	if _, err := f.svc.Start(context.Background(), c.ID); !errors.Is(err, apperrors.ErrSessionDisconnected) {
		t.Fatalf("expected ErrSessionDisconnected, got %v", err)
	}

	stored, _ := f.campaigns.Get(context.Background(), c.ID)
	if stored.Status != domain.CampaignStatusPending {
		t.Fatalf("status mutated to %s on rejected start", stored.Status)
	}
}

func TestResumeReschedulesOnlyQueuedMessages(t *testing.T) {
	f := newServiceFixture()
	c := f.seedCampaign(t, domain.CampaignStatusPending, 2)
	f.seedRecipients(c.SourceID, 3)

	if _, err := f.svc.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// One message settles before the pause.
	settled := f.enqueuer.jobs[0].MessageID
	if ok, _ := f.messages.MarkSent(context.Background(), settled, "hi", time.Now().UTC()); !ok {
		t.Fatal("settle message")
	}

	if _, err := f.svc.Pause(context.Background(), c.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	f.enqueuer.jobs = nil
	if _, err := f.svc.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if len(f.enqueuer.jobs) != 2 {
		t.Fatalf("resume enqueued %d jobs, want 2", len(f.enqueuer.jobs))
	}
	for _, job := range f.enqueuer.jobs {
		if job.MessageID == settled {
			t.Fatal("resume re-enqueued a settled message")
		}
	}
	if got := len(f.messages.messages); got != 3 {
		t.Fatalf("resume created new rows, total %d", got)
	}
}

func TestPauseOnlyFromRunning(t *testing.T) {
	f := newServiceFixture()
	c := f.seedCampaign(t, domain.CampaignStatusPending, 4)

	if _, err := f.svc.Pause(context.Background(), c.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelSetsFinishedAt(t *testing.T) {
	f := newServiceFixture()
	c := f.seedCampaign(t, domain.CampaignStatusRunning, 4)

	canceled, err := f.svc.Cancel(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != domain.CampaignStatusCanceled {
		t.Fatalf("status = %s, want canceled", canceled.Status)
	}
	if canceled.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}

	if _, err := f.svc.Cancel(context.Background(), c.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on double cancel, got %v", err)
	}
}

func TestDeleteRejectsActiveCampaign(t *testing.T) {
	f := newServiceFixture()
	running := f.seedCampaign(t, domain.CampaignStatusRunning, 4)
	paused := f.seedCampaign(t, domain.CampaignStatusPaused, 4)
	done := f.seedCampaign(t, domain.CampaignStatusFinished, 4)

	if err := f.svc.Delete(context.Background(), running.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("running: expected ErrInvalidTransition, got %v", err)
	}
	if err := f.svc.Delete(context.Background(), paused.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("paused: expected ErrInvalidTransition, got %v", err)
	}
	if err := f.svc.Delete(context.Background(), done.ID); err != nil {
		t.Fatalf("finished: %v", err)
	}
}

func TestMonitorFinishesAccountedCampaign(t *testing.T) {
	f := newServiceFixture()
	c := f.seedCampaign(t, domain.CampaignStatusRunning, 4)
	f.campaigns.campaigns[c.ID].TotalRecipients = 2
	f.campaigns.campaigns[c.ID].SentCount = 1
	f.campaigns.campaigns[c.ID].FailedCount = 1

	monitor := NewMonitor(f.campaigns, zap.NewNop())
	if err := monitor.Check(context.Background(), c.ID); err != nil {
		t.Fatalf("check: %v", err)
	}

	stored, _ := f.campaigns.Get(context.Background(), c.ID)
	if stored.Status != domain.CampaignStatusFinished {
		t.Fatalf("status = %s, want finished", stored.Status)
	}
	if stored.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}

	// Second check is a no-op.
	if err := monitor.Check(context.Background(), c.ID); err != nil {
		t.Fatalf("repeat check: %v", err)
	}
}

func TestMonitorLeavesIncompleteCampaign(t *testing.T) {
	f := newServiceFixture()
	c := f.seedCampaign(t, domain.CampaignStatusRunning, 4)
	f.campaigns.campaigns[c.ID].TotalRecipients = 3
	f.campaigns.campaigns[c.ID].SentCount = 1
	f.campaigns.campaigns[c.ID].FailedCount = 1

	monitor := NewMonitor(f.campaigns, zap.NewNop())
	if err := monitor.Check(context.Background(), c.ID); err != nil {
		t.Fatalf("check: %v", err)
	}

	stored, _ := f.campaigns.Get(context.Background(), c.ID)
	if stored.Status != domain.CampaignStatusRunning {
		t.Fatalf("status = %s, want running", stored.Status)
	}
}

func TestMonitorDoesNotOverrideCancel(t *testing.T) {
	f := newServiceFixture()
	c := f.seedCampaign(t, domain.CampaignStatusCanceled, 4)
	f.campaigns.campaigns[c.ID].TotalRecipients = 1
	f.campaigns.campaigns[c.ID].SentCount = 1

	monitor := NewMonitor(f.campaigns, zap.NewNop())
	if err := monitor.Check(context.Background(), c.ID); err != nil {
		t.Fatalf("check: %v", err)
	}

	stored, _ := f.campaigns.Get(context.Background(), c.ID)
	if stored.Status != domain.CampaignStatusCanceled {
		t.Fatalf("status = %s, want canceled", stored.Status)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in    string
		want  string
		valid bool
	}{
		{"+55 (11) 99999-0000", "5511999990000", true},
		{"5511999990000", "5511999990000", true},
		{"not a phone", "", false},
		{"", "", false},
		{"123", "", false},
	}

	for _, tc := range cases {
		got, ok := normalizePhone(tc.in)
		if got != tc.want || ok != tc.valid {
			t.Errorf("normalizePhone(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.valid)
		}
	}
}
