// internal/workers/notifications/deliver-notifications/handler_test.go
package delivernotifications

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeQueue struct {
	rows      []models.Notification
	claimErr  error
	sent      []string
	failed    []string
	deferred  map[string]time.Time
	cancelled map[string]string
	maxRetry  int
}

func newQueue(rows ...models.Notification) *fakeQueue {
	return &fakeQueue{rows: rows, deferred: map[string]time.Time{}, cancelled: map[string]string{}, maxRetry: 5}
}

func (q *fakeQueue) Claim(_ context.Context, limit int) ([]models.Notification, error) {
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if limit < len(q.rows) {
		return q.rows[:limit], nil
	}
	return q.rows, nil
}

func (q *fakeQueue) MarkSent(_ context.Context, id string) error {
	q.sent = append(q.sent, id)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, n *models.Notification, _ error) (models.NotificationStatus, error) {
	q.failed = append(q.failed, n.ID)
	if n.RetryCount+1 >= q.maxRetry {
		return models.NotificationFailed, nil
	}
	return models.NotificationQueued, nil
}

func (q *fakeQueue) Defer(_ context.Context, id string, until time.Time) error {
	q.deferred[id] = until
	return nil
}

func (q *fakeQueue) Cancel(_ context.Context, id, reason string) error {
	q.cancelled[id] = reason
	return nil
}

type fakePolicy struct {
	blocked map[string]models.PolicyDecision
	err     error
	calls   int
}

func (p *fakePolicy) Admit(_ context.Context, _ string, n *models.Notification) (models.PolicyDecision, error) {
	p.calls++
	if p.err != nil {
		return models.PolicyDecision{}, p.err
	}
	if d, ok := p.blocked[n.ID]; ok {
		return d, nil
	}
	return models.PolicyDecision{Allowed: true}, nil
}

type fakeRecipients struct {
	optedOut map[string]bool
	err      error
}

func (r *fakeRecipients) Allowed(_ context.Context, subject string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return !r.optedOut[subject], nil
}

type fakeSender struct {
	failFor map[string]error
	sent    []string
}

func (s *fakeSender) Send(_ context.Context, n *models.Notification) (string, error) {
	if err, ok := s.failFor[n.ID]; ok {
		return "", err
	}
	s.sent = append(s.sent, n.ID)
	return "wamid." + n.ID, nil
}

func notification(id, to string, retries int) models.Notification {
	return models.Notification{
		ID:         id,
		ToAddress:  to,
		Type:       models.TypeOrderPaidCustomer,
		Channel:    models.ChannelTemplate,
		Status:     models.NotificationQueued,
		RetryCount: retries,
	}
}

type fixture struct {
	queue      *fakeQueue
	policy     *fakePolicy
	recipients *fakeRecipients
	sender     *fakeSender
	handler    *Handler
}

func setup(t *testing.T, rows ...models.Notification) *fixture {
	f := &fixture{
		queue:      newQueue(rows...),
		policy:     &fakePolicy{blocked: map[string]models.PolicyDecision{}},
		recipients: &fakeRecipients{optedOut: map[string]bool{}},
		sender:     &fakeSender{failFor: map[string]error{}},
	}
	cfg := &Config{BatchSize: 10, Interval: time.Minute, Timeout: time.Second}
	f.handler = NewHandler(cfg, f.queue, f.policy, f.recipients, f.sender, clock.Fake(now), nil, logger.NewTestLogger(t))
	return f
}

// ==========================
// Delivery pass
// ==========================

func TestExecute_SendsDueNotifications(t *testing.T) {
	f := setup(t, notification("n1", "+250788000001", 0), notification("n2", "+250788000002", 0))

	out, err := f.handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, &Output{Claimed: 2, Sent: 2}, out)
	assert.Equal(t, []string{"n1", "n2"}, f.queue.sent)
	assert.Equal(t, []string{"n1", "n2"}, f.sender.sent)
}

func TestExecute_BatchSizeOverride(t *testing.T) {
	f := setup(t, notification("n1", "+250788000001", 0), notification("n2", "+250788000002", 0))

	out, err := f.handler.Execute(context.Background(), &Input{BatchSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Claimed)
	assert.Equal(t, []string{"n1"}, f.queue.sent)
}

func TestExecute_OptedOutRecipientIsCancelled(t *testing.T) {
	f := setup(t, notification("n1", "+250788000001", 0))
	f.recipients.optedOut["+250788000001"] = true

	out, err := f.handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Cancelled)
	assert.Equal(t, "opted_out", f.queue.cancelled["n1"])
	assert.Empty(t, f.sender.sent)
	assert.Zero(t, f.policy.calls, "opted-out rows never reach the throttle")
}

func TestExecute_QuietHoursDefersUntilWindowEnds(t *testing.T) {
	f := setup(t, notification("n1", "+250788000001", 0))
	until := time.Date(2026, 3, 15, 4, 0, 0, 0, time.UTC)
	f.policy.blocked["n1"] = models.PolicyDecision{Reason: models.ReasonQuietHours, BlockedUntil: &until}

	out, err := f.handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Deferred)
	assert.Equal(t, until, f.queue.deferred["n1"])
	assert.Empty(t, f.queue.failed, "a deferral does not spend a retry")
	assert.Empty(t, f.sender.sent)
}

func TestExecute_PolicyErrorHoldsForOneInterval(t *testing.T) {
	f := setup(t, notification("n1", "+250788000001", 0))
	f.policy.err = errors.NewTransientError("throttle peek", stderrors.New("redis down"))

	out, err := f.handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Deferred)
	assert.Equal(t, now.Add(time.Minute), f.queue.deferred["n1"])
}

func TestExecute_OptOutLookupFailureHolds(t *testing.T) {
	f := setup(t, notification("n1", "+250788000001", 0))
	f.recipients.err = stderrors.New("db down")

	out, err := f.handler.Execute(context.Background(), &Input{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Deferred)
	assert.Empty(t, f.queue.cancelled)
}

func TestExecute_SendFailures(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		want    Output
	}{
		{"first failure is retried", 0, Output{Claimed: 1, Retrying: 1}},
		{"last attempt gives up", 4, Output{Claimed: 1, Failed: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, notification("n1", "+250788000001", tt.retries))
			f.sender.failFor["n1"] = stderrors.New("graph 503")

			out, err := f.handler.Execute(context.Background(), &Input{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, *out)
			assert.Equal(t, []string{"n1"}, f.queue.failed)
			assert.Empty(t, f.queue.sent)
		})
	}
}

func TestExecute_ClaimError(t *testing.T) {
	f := setup(t)
	f.queue.claimErr = errors.WrapQuery("claim_notifications", stderrors.New("connection reset"))

	_, err := f.handler.Execute(context.Background(), &Input{})
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.handler.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery loop did not stop")
	}
}
