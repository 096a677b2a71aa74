package send

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/whatsapp-campaign/internal/domain"
	"github.com/acme/whatsapp-campaign/internal/gateway"
	"github.com/acme/whatsapp-campaign/internal/queue"
	apperrors "github.com/acme/whatsapp-campaign/pkg/errors"
)

type stubCampaignRepo struct {
	campaigns map[uuid.UUID]*domain.Campaign
}

func (r *stubCampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	r.campaigns[c.ID] = c
	return nil
}

func (r *stubCampaignRepo) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := r.campaigns[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *stubCampaignRepo) Update(_ context.Context, c *domain.Campaign) error {
	r.campaigns[c.ID] = c
	return nil
}

func (r *stubCampaignRepo) List(_ context.Context, _ *uuid.UUID, _ int) ([]*domain.Campaign, error) {
	return nil, nil
}

func (r *stubCampaignRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.campaigns, id)
	return nil
}

func (r *stubCampaignRepo) SetTotalRecipients(_ context.Context, id uuid.UUID, total int64) error {
	r.campaigns[id].TotalRecipients = total
	return nil
}

func (r *stubCampaignRepo) IncrementSent(_ context.Context, id uuid.UUID) error {
	r.campaigns[id].SentCount++
	return nil
}

func (r *stubCampaignRepo) IncrementFailed(_ context.Context, id uuid.UUID) error {
	r.campaigns[id].FailedCount++
	return nil
}

func (r *stubCampaignRepo) MarkFinished(_ context.Context, id uuid.UUID, finishedAt time.Time) (bool, error) {
	c := r.campaigns[id]
	if c.Status != domain.CampaignStatusRunning {
		return false, nil
	}
	c.Status = domain.CampaignStatusFinished
	c.FinishedAt = &finishedAt
	return true, nil
}

type stubMessageRepo struct {
	messages map[uuid.UUID]*domain.Message
}

func (r *stubMessageRepo) BulkInsert(_ context.Context, msgs []*domain.Message) error {
	for _, m := range msgs {
		r.messages[m.ID] = m
	}
	return nil
}

func (r *stubMessageRepo) Get(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	m, ok := r.messages[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *stubMessageRepo) MarkSent(_ context.Context, id uuid.UUID, body string, sentAt time.Time) (bool, error) {
	m, ok := r.messages[id]
	if !ok || m.Status != domain.MessageStatusQueued {
		return false, nil
	}
	m.Status = domain.MessageStatusSent
	m.Body = body
	m.SentAt = &sentAt
	return true, nil
}

func (r *stubMessageRepo) MarkFailed(_ context.Context, id uuid.UUID, body, errorCode, errorMessage string) (bool, error) {
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

func (r *stubMessageRepo) ListByCampaign(_ context.Context, _ uuid.UUID, _ int, _ string) ([]*domain.Message, error) {
	return nil, nil
}

func (r *stubMessageRepo) ListQueuedIDs(_ context.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (r *stubMessageRepo) DeleteByCampaign(_ context.Context, _ uuid.UUID) error {
	return nil
}

type stubRecipientRepo struct {
	recipients map[uuid.UUID]*domain.Recipient
}

func (r *stubRecipientRepo) BulkInsert(_ context.Context, recs []*domain.Recipient) error {
	for _, rec := range recs {
		r.recipients[rec.ID] = rec
	}
	return nil
}

func (r *stubRecipientRepo) Get(_ context.Context, id uuid.UUID) (*domain.Recipient, error) {
	rec, ok := r.recipients[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return rec, nil
}

func (r *stubRecipientRepo) ListEligible(_ context.Context, _ uuid.UUID) ([]*domain.Recipient, error) {
	return nil, nil
}

type stubProvider struct {
	connected    bool
	connectedErr error
	sendErr      error
	receipt      gateway.Receipt
	textCalls    int
	lastTo       string
	lastBody     string
}

func (p *stubProvider) SendText(_ context.Context, to, body string) (gateway.Receipt, error) {
	p.textCalls++
	p.lastTo = to
	p.lastBody = body
	if p.sendErr != nil {
		return gateway.Receipt{}, p.sendErr
	}
	return p.receipt, nil
}

func (p *stubProvider) SendImage(_ context.Context, _ string, _ gateway.Media) (gateway.Receipt, error) {
	return p.receipt, p.sendErr
}

func (p *stubProvider) SendVideo(_ context.Context, _ string, _ gateway.Media) (gateway.Receipt, error) {
	return p.receipt, p.sendErr
}

func (p *stubProvider) SendAudio(_ context.Context, _ string, _ gateway.Media) (gateway.Receipt, error) {
	return p.receipt, p.sendErr
}

func (p *stubProvider) SendFile(_ context.Context, _ string, _ gateway.Media) (gateway.Receipt, error) {
	return p.receipt, p.sendErr
}

func (p *stubProvider) SendLink(_ context.Context, _, _, _ string) (gateway.Receipt, error) {
	return p.receipt, p.sendErr
}

func (p *stubProvider) SendLocation(_ context.Context, _ string, _, _ float64, _ string) (gateway.Receipt, error) {
	return p.receipt, p.sendErr
}

func (p *stubProvider) SendContact(_ context.Context, _, _, _ string) (gateway.Receipt, error) {
	return p.receipt, p.sendErr
}

func (p *stubProvider) SendPoll(_ context.Context, _, _ string, _ []string, _ int) (gateway.Receipt, error) {
	return p.receipt, p.sendErr
}

func (p *stubProvider) SessionConnected(_ context.Context, _ string) (bool, error) {
	return p.connected, p.connectedErr
}

type stubOutcomes struct {
	events []queue.OutcomeEvent
}

func (s *stubOutcomes) Publish(_ context.Context, event queue.OutcomeEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubCompletion struct {
	checks []uuid.UUID
}

func (s *stubCompletion) Check(_ context.Context, campaignID uuid.UUID) error {
	s.checks = append(s.checks, campaignID)
	return nil
}

type processorFixture struct {
	processor  *Processor
	campaigns  *stubCampaignRepo
	messages   *stubMessageRepo
	recipients *stubRecipientRepo
	provider   *stubProvider
	outcomes   *stubOutcomes
	completion *stubCompletion
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		campaigns:  &stubCampaignRepo{campaigns: make(map[uuid.UUID]*domain.Campaign)},
		messages:   &stubMessageRepo{messages: make(map[uuid.UUID]*domain.Message)},
		recipients: &stubRecipientRepo{recipients: make(map[uuid.UUID]*domain.Recipient)},
		provider:   &stubProvider{connected: true, receipt: gateway.Receipt{ProviderMessageID: "wamid.1"}},
		outcomes:   &stubOutcomes{},
		completion: &stubCompletion{},
	}
	f.processor = NewProcessor(
		f.campaigns,
		f.messages,
		f.recipients,
		f.provider,
		f.outcomes,
		f.completion,
		nil,
		time.Second,
		zap.NewNop(),
	)
	return f
}

func (f *processorFixture) seed(status domain.CampaignStatus) (queue.SendJob, *domain.Campaign, *domain.Message) {
	recipient := &domain.Recipient{
		ID:        uuid.New(),
		SourceID:  uuid.New(),
		Phone:     "5511999990000",
		Valid:     true,
		FirstName: "Lina",
	}
	f.recipients.recipients[recipient.ID] = recipient

	campaign := &domain.Campaign{
		ID:              uuid.New(),
		Name:            "launch",
		SessionID:       "session-1",
		SourceID:        recipient.SourceID,
		Payload:         domain.Payload{Type: domain.MessageTypeText, Body: "Hi {{first_name}}"},
		DelaySeconds:    4,
		TotalRecipients: 1,
		Status:          status,
	}
	f.campaigns.campaigns[campaign.ID] = campaign

	message := &domain.Message{
		ID:          uuid.New(),
		CampaignID:  campaign.ID,
		RecipientID: recipient.ID,
		Phone:       recipient.Phone,
		Status:      domain.MessageStatusQueued,
	}
	f.messages.messages[message.ID] = message

	job := queue.SendJob{MessageID: message.ID, CampaignID: campaign.ID, DueAt: time.Now().UTC()}
	return job, campaign, message
}

func TestProcessSendsAndSettlesSent(t *testing.T) {
	f := newProcessorFixture()
	job, campaign, message := f.seed(domain.CampaignStatusRunning)

	if err := f.processor.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	if f.provider.textCalls != 1 {
		t.Fatalf("gateway calls = %d, want 1", f.provider.textCalls)
	}
	if f.provider.lastBody != "Hi Lina" {
		t.Errorf("rendered body = %q, want %q", f.provider.lastBody, "Hi Lina")
	}

	stored := f.messages.messages[message.ID]
	if stored.Status != domain.MessageStatusSent {
		t.Fatalf("message status = %s, want sent", stored.Status)
	}
	if stored.SentAt == nil {
		t.Fatal("sent_at not set")
	}
	if stored.Body != "Hi Lina" {
		t.Errorf("stored body = %q", stored.Body)
	}

	c := f.campaigns.campaigns[campaign.ID]
	if c.SentCount != 1 || c.FailedCount != 0 {
		t.Fatalf("counters sent=%d failed=%d, want 1/0", c.SentCount, c.FailedCount)
	}
	if len(f.completion.checks) != 1 {
		t.Fatalf("completion checks = %d, want 1", len(f.completion.checks))
	}
	if len(f.outcomes.events) != 1 || f.outcomes.events[0].Status != "sent" {
		t.Fatalf("outcome events = %+v", f.outcomes.events)
	}
}

func TestProcessGatewayErrorSettlesFailed(t *testing.T) {
	f := newProcessorFixture()
	f.provider.sendErr = errors.New("bridge returned 500")
	job, campaign, message := f.seed(domain.CampaignStatusRunning)

	if err := f.processor.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored := f.messages.messages[message.ID]
	if stored.Status != domain.MessageStatusFailed {
		t.Fatalf("message status = %s, want failed", stored.Status)
	}
	if stored.ErrorCode != domain.ErrorCodeSendError {
		t.Errorf("error code = %s, want SEND_ERROR", stored.ErrorCode)
	}

	c := f.campaigns.campaigns[campaign.ID]
	if c.SentCount != 0 || c.FailedCount != 1 {
		t.Fatalf("counters sent=%d failed=%d, want 0/1", c.SentCount, c.FailedCount)
	}
	if len(f.completion.checks) != 1 {
		t.Fatalf("completion checks = %d, want 1", len(f.completion.checks))
	}
}

func TestProcessPausedCampaignLeavesMessageQueued(t *testing.T) {
	f := newProcessorFixture()
	job, campaign, message := f.seed(domain.CampaignStatusPaused)

	if err := f.processor.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	if f.provider.textCalls != 0 {
		t.Fatal("gateway called for paused campaign")
	}
	if f.messages.messages[message.ID].Status != domain.MessageStatusQueued {
		t.Fatal("message settled for paused campaign")
	}
	c := f.campaigns.campaigns[campaign.ID]
	if c.SentCount != 0 || c.FailedCount != 0 {
		t.Fatal("counters moved for paused campaign")
	}
	if len(f.completion.checks) != 0 {
		t.Fatal("completion checked for paused campaign")
	}
}

func TestProcessSettledMessageIsDropped(t *testing.T) {
	f := newProcessorFixture()
	job, campaign, message := f.seed(domain.CampaignStatusRunning)
	message.Status = domain.MessageStatusSent

	if err := f.processor.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	if f.provider.textCalls != 0 {
		t.Fatal("gateway called for settled message")
	}
	c := f.campaigns.campaigns[campaign.ID]
	if c.SentCount != 0 || c.FailedCount != 0 {
		t.Fatal("counters moved on redelivery")
	}
}

func TestProcessDisconnectedSessionFailsMessage(t *testing.T) {
	f := newProcessorFixture()
	f.provider.connected = false
	job, campaign, message := f.seed(domain.CampaignStatusRunning)

	if err := f.processor.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored := f.messages.messages[message.ID]
	if stored.Status != domain.MessageStatusFailed || stored.ErrorCode != domain.ErrorCodeSessionDisconnected {
		t.Fatalf("message status=%s code=%s, want failed/SESSION_DISCONNECTED", stored.Status, stored.ErrorCode)
	}
	if f.provider.textCalls != 0 {
		t.Fatal("gateway called with disconnected session")
	}
	if f.campaigns.campaigns[campaign.ID].FailedCount != 1 {
		t.Fatal("failed_count not incremented")
	}
	if len(f.completion.checks) != 1 {
		t.Fatal("completion not checked")
	}
}

func TestProcessMissingCampaignFailsWithoutCounters(t *testing.T) {
	f := newProcessorFixture()
	job, campaign, message := f.seed(domain.CampaignStatusRunning)
	delete(f.campaigns.campaigns, campaign.ID)

	if err := f.processor.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored := f.messages.messages[message.ID]
	if stored.Status != domain.MessageStatusFailed || stored.ErrorCode != domain.ErrorCodeCampaignNotFound {
		t.Fatalf("message status=%s code=%s, want failed/CAMPAIGN_NOT_FOUND", stored.Status, stored.ErrorCode)
	}
	if len(f.completion.checks) != 0 {
		t.Fatal("completion checked without campaign")
	}
}

func TestProcessMissingMessageIsDropped(t *testing.T) {
	f := newProcessorFixture()
	job, _, _ := f.seed(domain.CampaignStatusRunning)
	delete(f.messages.messages, job.MessageID)

	if err := f.processor.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.provider.textCalls != 0 {
		t.Fatal("gateway called for missing message")
	}
}

func TestProcessTruncatesLongErrors(t *testing.T) {
	f := newProcessorFixture()
	f.provider.sendErr = errors.New(strings.Repeat("x", 900))
	job, _, message := f.seed(domain.CampaignStatusRunning)

	if err := f.processor.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored := f.messages.messages[message.ID]
	if len(stored.ErrorMessage) != domain.ErrorMessageLimit {
		t.Fatalf("error message length = %d, want %d", len(stored.ErrorMessage), domain.ErrorMessageLimit)
	}
}

func TestHandleJobFailureSettlesQueuedMessage(t *testing.T) {
	f := newProcessorFixture()
	job, campaign, message := f.seed(domain.CampaignStatusRunning)

	f.processor.HandleJobFailure(context.Background(), job, errors.New("panic: boom"))

	stored := f.messages.messages[message.ID]
	if stored.Status != domain.MessageStatusFailed || stored.ErrorCode != domain.ErrorCodeJobFailed {
		t.Fatalf("message status=%s code=%s, want failed/JOB_FAILED", stored.Status, stored.ErrorCode)
	}
	if f.campaigns.campaigns[campaign.ID].FailedCount != 1 {
		t.Fatal("failed_count not incremented")
	}
	if len(f.completion.checks) != 1 {
		t.Fatal("completion not checked")
	}
}

func TestHandleJobFailureIgnoresSettledMessage(t *testing.T) {
	f := newProcessorFixture()
	job, campaign, message := f.seed(domain.CampaignStatusRunning)
	message.Status = domain.MessageStatusSent

	f.processor.HandleJobFailure(context.Background(), job, errors.New("late timeout"))

	if f.campaigns.campaigns[campaign.ID].FailedCount != 0 {
		t.Fatal("counter moved for settled message")
	}
}
