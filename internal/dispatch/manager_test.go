package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/bulkmailer/campaign-engine/internal/errors"
	"github.com/bulkmailer/campaign-engine/internal/model"
	"github.com/bulkmailer/campaign-engine/internal/recipient"
	"github.com/bulkmailer/campaign-engine/internal/transport"
)

// --- In-memory store shared by the fake repositories ---

type memStore struct {
	mu         sync.Mutex
	campaigns  map[int]*model.Campaign
	records    []*model.DeliveryRecord
	logs       []*model.LifecycleLogEntry
	recipients map[int][]model.Recipient
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:  make(map[int]*model.Campaign),
		recipients: make(map[int][]model.Recipient),
	}
}

func (s *memStore) put(c *model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *c
	s.campaigns[c.ID] = &clone
}

func (s *memStore) campaign(id int) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *memStore) transitionLogs(id int) []*model.LifecycleLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*model.LifecycleLogEntry{}
	for _, e := range s.logs {
		if e.CampaignID == id && e.Event == model.EventStatusChange {
			out = append(out, e)
		}
	}
	return out
}

type memCampaigns struct{ s *memStore }

func (m *memCampaigns) Create(c *model.Campaign) error { m.s.put(c); return nil }

func (m *memCampaigns) GetByID(id int) (*model.Campaign, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	clone := *c
	return &clone, nil
}

func (m *memCampaigns) ListCampaigns(offset, limit int, status, search string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}

func (m *memCampaigns) Update(c *model.Campaign) error { return nil }

func (m *memCampaigns) UpdateStatusIf(id int, expected, next model.Status) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = next
	return true, nil
}

func (m *memCampaigns) SetTotalRecipients(id, total int) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.campaigns[id].TotalRecipients = total
	return nil
}

func (m *memCampaigns) ResetStats(id int) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c := m.s.campaigns[id]
	c.SentCount, c.FailedCount = 0, 0
	kept := m.s.records[:0]
	for _, r := range m.s.records {
		if r.CampaignID != id {
			kept = append(kept, r)
		}
	}
	m.s.records = kept
	return nil
}

func (m *memCampaigns) Delete(id int) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.campaigns, id)
	return nil
}

func (m *memCampaigns) ListDue(now time.Time) ([]*model.Campaign, error) { return nil, nil }

type memRecords struct{ s *memStore }

func (m *memRecords) RecordAttempt(rec *model.DeliveryRecord, entry *model.LifecycleLogEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c := m.s.campaigns[rec.CampaignID]
	if c.SentCount+c.FailedCount >= c.TotalRecipients {
		return fmt.Errorf("counter invariant would be violated")
	}
	m.s.records = append(m.s.records, rec)
	m.s.logs = append(m.s.logs, entry)
	if rec.Status == model.DeliverySent {
		c.SentCount++
	} else {
		c.FailedCount++
	}
	return nil
}

func (m *memRecords) ListByCampaign(id, offset, limit int) ([]*model.DeliveryRecord, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := []*model.DeliveryRecord{}
	for _, r := range m.s.records {
		if r.CampaignID == id {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *memRecords) HasUnsettled(id int) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, r := range m.s.records {
		if r.CampaignID == id && !r.Status.Settled() {
			return true, nil
		}
	}
	return false, nil
}

type memLogs struct{ s *memStore }

func (m *memLogs) Append(e *model.LifecycleLogEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.logs = append(m.s.logs, e)
	return nil
}

func (m *memLogs) ListByCampaign(id, offset, limit int) ([]*model.LifecycleLogEntry, error) {
	return m.s.transitionLogs(id), nil
}

type memSources struct{ s *memStore }

func (m *memSources) UploadedRecipients(id int) ([]model.Recipient, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.recipients[id], nil
}

func (m *memSources) ListMembers(listID int) ([]model.Recipient, error)      { return nil, nil }
func (m *memSources) GroupSubscribers(groupID int) ([]model.Recipient, error) { return nil, nil }

func (m *memSources) ReplaceUpload(id int, recipients []model.Recipient) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.recipients[id] = recipients
	return nil
}

// fakeMailer lets tests fail verification, fail specific recipients and
// gate send completion for pause/stop timing.
type fakeMailer struct {
	mu        sync.Mutex
	verifyErr error
	sendErr   map[string]error
	gate      chan struct{}
	sent      []string
}

func (f *fakeMailer) Verify(ctx context.Context) error { return f.verifyErr }

func (f *fakeMailer) Send(ctx context.Context, msg *transport.Message) (*transport.Result, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.sendErr[msg.ToEmail]; ok {
		return nil, err
	}
	f.sent = append(f.sent, msg.ToEmail)
	return &transport.Result{MessageID: "msg-" + msg.ToEmail, Response: "250 accepted"}, nil
}

func (f *fakeMailer) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sent...)
}

// --- Harness ---

type harness struct {
	store   *memStore
	mailer  *fakeMailer
	manager *Manager
	delays  *[]time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	mailer := &fakeMailer{sendErr: map[string]error{}}
	campaigns := &memCampaigns{s: store}
	records := &memRecords{s: store}
	logs := &memLogs{s: store}
	resolver := &recipient.Resolver{Sources: &memSources{s: store}}
	worker := &Worker{Records: records, Mailer: mailer, Logger: zap.NewNop()}
	m := NewManager(campaigns, logs, resolver, worker, mailer, time.Second, zap.NewNop())

	delays := &[]time.Duration{}
	var mu sync.Mutex
	m.sleep = func(d time.Duration) {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
	}
	return &harness{store: store, mailer: mailer, manager: m, delays: delays}
}

func (h *harness) seed(id int, status model.Status, emails ...string) {
	recipients := make([]model.Recipient, len(emails))
	for i, e := range emails {
		recipients[i] = model.Recipient{Email: e, Name: e}
	}
	h.store.put(&model.Campaign{
		ID:              id,
		Name:            "test",
		Subject:         "hello {{name}}",
		BodyTemplate:    "hi {{name}}",
		Status:          status,
		SourceType:      model.SourceUpload,
		TotalRecipients: len(recipients),
	})
	h.store.recipients[id] = recipients
}

func (h *harness) waitStatus(t *testing.T, id int, want model.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.store.campaign(id).Status == want
	}, 2*time.Second, 5*time.Millisecond, "campaign never reached %s", want)
	require.Eventually(t, func() bool {
		return !h.manager.IsRunning(id)
	}, 2*time.Second, 5*time.Millisecond, "loop handle never released")
}

// --- Tests ---

func TestStartRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusDraft, "a@x.io", "b@x.io", "c@x.io")

	require.NoError(t, h.manager.Start(context.Background(), 1, "tester"))
	h.waitStatus(t, 1, model.StatusCompleted)

	c := h.store.campaign(1)
	assert.Equal(t, 3, c.SentCount)
	assert.Equal(t, 0, c.FailedCount)
	assert.Equal(t, []string{"a@x.io", "b@x.io", "c@x.io"}, h.mailer.sentTo())

	logs := h.store.transitionLogs(1)
	require.Len(t, logs, 2)
	assert.Equal(t, string(model.StatusDraft), logs[0].PrevValue)
	assert.Equal(t, string(model.StatusSending), logs[0].NextValue)
	assert.Equal(t, string(model.StatusCompleted), logs[1].NextValue)
}

func TestStartRejectsNonDraft(t *testing.T) {
	h := newHarness(t)
	for _, status := range []model.Status{model.StatusPaused, model.StatusStopped, model.StatusCompleted, model.StatusFailed} {
		h.seed(1, status, "a@x.io")
		err := h.manager.Start(context.Background(), 1, "tester")
		var ve *appErrors.ValidationError
		assert.ErrorAs(t, err, &ve, "status %s must reject start", status)
		assert.Equal(t, status, h.store.campaign(1).Status, "status %s must not change", status)
	}
}

func TestStartIdempotentUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusDraft, "a@x.io", "b@x.io")
	h.mailer.gate = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Either the loop was acquired (nil) or the status had
			// already moved on; never two loops.
			_ = h.manager.Start(context.Background(), 1, "tester")
		}()
	}
	wg.Wait()
	close(h.mailer.gate)
	h.waitStatus(t, 1, model.StatusCompleted)

	started := 0
	for _, e := range h.store.transitionLogs(1) {
		if e.NextValue == string(model.StatusSending) {
			started++
		}
	}
	assert.Equal(t, 1, started, "exactly one SENDING transition")
	assert.Len(t, h.mailer.sentTo(), 2, "each recipient sent exactly once")
}

func TestPauseThenResumeContinuesAtCursor(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusDraft, "a@x.io", "b@x.io", "c@x.io")
	gate := make(chan struct{}, 3)
	h.mailer.gate = gate

	require.NoError(t, h.manager.Start(context.Background(), 1, "tester"))
	gate <- struct{}{} // let the first send finish
	require.NoError(t, h.manager.Pause(1, "tester"))
	gate <- struct{}{} // the in-flight send is never abandoned
	h.waitStatus(t, 1, model.StatusPaused)

	paused := h.store.campaign(1)
	cursor := paused.SentCount + paused.FailedCount
	assert.GreaterOrEqual(t, cursor, 1)
	assert.True(t, paused.IsPaused())

	// Resume picks up from the persisted counters.
	h.mailer.gate = nil
	require.NoError(t, h.manager.Resume(context.Background(), 1, "tester"))
	h.waitStatus(t, 1, model.StatusCompleted)

	c := h.store.campaign(1)
	assert.Equal(t, 3, c.SentCount+c.FailedCount)
	assert.Equal(t, []string{"a@x.io", "b@x.io", "c@x.io"}, h.mailer.sentTo(), "no recipient skipped or repeated")
}

func TestStopIsTerminalUntilResend(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusDraft, "a@x.io", "b@x.io", "c@x.io")
	gate := make(chan struct{}, 3)
	h.mailer.gate = gate

	require.NoError(t, h.manager.Start(context.Background(), 1, "tester"))
	gate <- struct{}{}
	require.NoError(t, h.manager.Stop(1, "tester"))
	gate <- struct{}{}
	h.waitStatus(t, 1, model.StatusStopped)

	var ve *appErrors.ValidationError
	assert.ErrorAs(t, h.manager.Start(context.Background(), 1, "tester"), &ve)
	assert.ErrorAs(t, h.manager.Resume(context.Background(), 1, "tester"), &ve)

	h.mailer.gate = nil
	require.NoError(t, h.manager.Resend(context.Background(), 1, "tester"))
	h.waitStatus(t, 1, model.StatusCompleted)

	c := h.store.campaign(1)
	assert.Equal(t, 3, c.SentCount+c.FailedCount)
	assert.Equal(t, []string{"a@x.io", "b@x.io", "c@x.io"}, h.mailer.sentTo())
}

func TestResendWithNothingLeftIsRejected(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusStopped, "a@x.io")
	h.store.mu.Lock()
	h.store.campaigns[1].SentCount = 1
	h.store.mu.Unlock()

	var ve *appErrors.ValidationError
	assert.ErrorAs(t, h.manager.Resend(context.Background(), 1, "tester"), &ve)
}

func TestVerifyFailureSetsFailed(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusDraft, "a@x.io")
	h.mailer.verifyErr = appErrors.NewTransport(421, "verify", fmt.Errorf("service not available"))

	require.NoError(t, h.manager.Start(context.Background(), 1, "tester"))
	h.waitStatus(t, 1, model.StatusFailed)

	assert.Empty(t, h.mailer.sentTo(), "no recipient is attempted after a verify failure")
	c := h.store.campaign(1)
	assert.Equal(t, 0, c.SentCount+c.FailedCount)
}

func TestSetupFailureRollsBackToDraft(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusDraft, "a@x.io")
	h.store.mu.Lock()
	h.store.campaigns[1].SourceType = model.SourceList // ref 0: resolution fails
	h.store.mu.Unlock()

	require.NoError(t, h.manager.Start(context.Background(), 1, "tester"))
	h.waitStatus(t, 1, model.StatusDraft)
}

func TestPerRecipientFailuresDoNotStopTheLoop(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusDraft, "ok@x.io", "bounce@x.io", "reject@x.io", "last@x.io")
	h.mailer.sendErr["bounce@x.io"] = appErrors.NewTransport(450, "send", fmt.Errorf("mailbox busy"))
	h.mailer.sendErr["reject@x.io"] = appErrors.NewTransport(550, "send", fmt.Errorf("no such user"))

	require.NoError(t, h.manager.Start(context.Background(), 1, "tester"))
	h.waitStatus(t, 1, model.StatusCompleted)

	c := h.store.campaign(1)
	assert.Equal(t, 2, c.SentCount)
	assert.Equal(t, 2, c.FailedCount)

	byEmail := map[string]model.DeliveryStatus{}
	h.store.mu.Lock()
	for _, r := range h.store.records {
		byEmail[r.Email] = r.Status
	}
	h.store.mu.Unlock()
	assert.Equal(t, model.DeliverySent, byEmail["ok@x.io"])
	assert.Equal(t, model.DeliveryBounced, byEmail["bounce@x.io"])
	assert.Equal(t, model.DeliveryRejected, byEmail["reject@x.io"])
	assert.Equal(t, model.DeliverySent, byEmail["last@x.io"])
}

func TestRandomIntervalPacingStaysInBounds(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusDraft, "a@x.io", "b@x.io", "c@x.io", "d@x.io", "e@x.io")
	h.store.mu.Lock()
	h.store.campaigns[1].EnableRandomInterval = true
	h.store.campaigns[1].RandomIntervalMin = 60
	h.store.campaigns[1].RandomIntervalMax = 120
	h.store.mu.Unlock()

	require.NoError(t, h.manager.Start(context.Background(), 1, "tester"))
	h.waitStatus(t, 1, model.StatusCompleted)

	require.Len(t, *h.delays, 4, "one delay between each consecutive pair")
	for _, d := range *h.delays {
		assert.GreaterOrEqual(t, d, 60*time.Second)
		assert.LessOrEqual(t, d, 120*time.Second)
	}
}

func TestFixedFloorPacingApplies(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusDraft, "a@x.io", "b@x.io")

	require.NoError(t, h.manager.Start(context.Background(), 1, "tester"))
	h.waitStatus(t, 1, model.StatusCompleted)

	require.Len(t, *h.delays, 1)
	assert.Equal(t, time.Second, (*h.delays)[0])
}

func TestPauseWithoutLoopTransitionsDirectly(t *testing.T) {
	h := newHarness(t)
	h.seed(1, model.StatusSending, "a@x.io")

	require.NoError(t, h.manager.Pause(1, "tester"))
	assert.Equal(t, model.StatusPaused, h.store.campaign(1).Status)

	// A second pause has nothing to transition.
	var ve *appErrors.ValidationError
	assert.ErrorAs(t, h.manager.Pause(1, "tester"), &ve)
}

func TestRecoverReattachesLoop(t *testing.T) {
	h := newHarness(t)
	// Simulates a restart: persisted SENDING, one recipient already
	// settled, no loop handle.
	h.seed(1, model.StatusSending, "a@x.io", "b@x.io", "c@x.io")
	h.store.mu.Lock()
	h.store.campaigns[1].SentCount = 1
	h.store.mu.Unlock()

	require.NoError(t, h.manager.Recover(context.Background(), 1, "tester"))
	h.waitStatus(t, 1, model.StatusCompleted)

	// Only the unsettled remainder was attempted.
	assert.Equal(t, []string{"b@x.io", "c@x.io"}, h.mailer.sentTo())
	c := h.store.campaign(1)
	assert.Equal(t, 3, c.SentCount+c.FailedCount)
}

// Registry sanity: the handle map is the only loop bookkeeping.
func TestRegistryAtMostOneHandle(t *testing.T) {
	r := NewRegistry()
	h1, ok := r.acquire(7)
	require.True(t, ok)
	require.NotNil(t, h1)

	_, ok = r.acquire(7)
	assert.False(t, ok)
	assert.True(t, r.IsRunning(7))

	r.release(7)
	assert.False(t, r.IsRunning(7))
	_, ok = r.acquire(7)
	assert.True(t, ok)
}
