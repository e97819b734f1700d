package notify

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/config"
	"dinein-commerce/internal/common/errors"
	commonhttp "dinein-commerce/internal/common/http"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notificationID = "5a4b3c2d-1e0f-4a9b-8c7d-6e5f4a3b2c1d"

var lateEvening = time.Date(2026, 3, 10, 23, 5, 0, 0, time.UTC)

type recordingAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAuditor) Record(_ context.Context, e AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAuditor) last() AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

func testConfig() config.NotificationConfig {
	var cfg config.NotificationConfig
	cfg.Policy.QuietHours.Start = "22:00"
	cfg.Policy.QuietHours.End = "06:00"
	cfg.Policy.QuietHours.Timezone = "UTC"
	cfg.Policy.Throttle.Limit = 2
	cfg.Policy.Throttle.WindowSeconds = 60
	cfg.Policy.CriticalTypes = []string{models.TypeStaffInvite}
	cfg.Delivery.MaxRetries = 5
	cfg.Delivery.BackoffBase = 30
	cfg.Delivery.BackoffMax = 900
	return cfg
}

func newTestPolicy(t *testing.T, c clock.Clock, auditor Auditor) *Policy {
	t.Helper()
	p, err := NewPolicy(testConfig(), NewMemoryWindowStore(c), logger.NewTestLogger(t),
		WithPolicyClock(c), WithAuditor(auditor))
	require.NoError(t, err)
	return p
}

func customerNotification() *models.Notification {
	return &models.Notification{
		ID:        notificationID,
		ToAddress: "+250788000111",
		Type:      models.TypeOrderPaidCustomer,
		Channel:   models.ChannelTemplate,
	}
}

// ==========================
// Quiet hours
// ==========================

func TestQuietHours(t *testing.T) {
	q, err := ParseQuietHours("22:00", "06:00", "UTC")
	require.NoError(t, err)

	tests := []struct {
		name    string
		at      time.Time
		inside  bool
		nextEnd time.Time
	}{
		{"late evening", lateEvening, true, time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)},
		{"early morning", time.Date(2026, 3, 11, 5, 59, 0, 0, time.UTC), true, time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)},
		{"window end is open", time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC), false, time.Time{}},
		{"afternoon", time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC), false, time.Time{}},
		{"window start is closed", time.Date(2026, 3, 11, 22, 0, 0, 0, time.UTC), true, time.Date(2026, 3, 12, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.inside, q.Contains(tt.at))
			if tt.inside {
				assert.True(t, tt.nextEnd.Equal(q.NextEnd(tt.at)), "got %s", q.NextEnd(tt.at))
			}
		})
	}

	t.Run("daytime window", func(t *testing.T) {
		day, err := ParseQuietHours("13:00", "14:00", "UTC")
		require.NoError(t, err)
		at := time.Date(2026, 3, 11, 13, 30, 0, 0, time.UTC)
		assert.True(t, day.Contains(at))
		assert.True(t, day.NextEnd(at).Equal(time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC)))
	})

	t.Run("equal bounds disable", func(t *testing.T) {
		off, err := ParseQuietHours("00:00", "00:00", "UTC")
		require.NoError(t, err)
		assert.False(t, off.Contains(lateEvening))
	})

	t.Run("rejects malformed bounds", func(t *testing.T) {
		_, err := ParseQuietHours("25:00", "06:00", "UTC")
		assert.Error(t, err)
		_, err = ParseQuietHours("22:00", "06:00", "Mars/Olympus")
		assert.Error(t, err)
	})
}

// ==========================
// Policy
// ==========================

func TestPolicy_QuietHoursBlock(t *testing.T) {
	auditor := &recordingAuditor{}
	p := newTestPolicy(t, clock.Fake(lateEvening), auditor)

	d, err := p.Evaluate(context.Background(), ActionResend, customerNotification())
	require.NoError(t, err)

	assert.False(t, d.Allowed)
	assert.Equal(t, models.ReasonQuietHours, d.Reason)
	require.NotNil(t, d.BlockedAt)
	assert.True(t, d.BlockedAt.Equal(lateEvening))
	require.NotNil(t, d.BlockedUntil)
	assert.True(t, d.BlockedUntil.Equal(time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)))

	entry := auditor.last()
	assert.Equal(t, DecisionBlock, entry.Decision)
	assert.Equal(t, string(models.ReasonQuietHours), entry.Reason)
	assert.Equal(t, ActionResend, entry.Action)
	assert.Equal(t, notificationID, entry.NotificationID)
}

func TestPolicy_CriticalTypesIgnoreQuietHours(t *testing.T) {
	p := newTestPolicy(t, clock.Fake(lateEvening), &recordingAuditor{})

	n := customerNotification()
	n.Type = models.TypeStaffInvite
	d, err := p.Admit(context.Background(), ActionSend, n)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

type staticSettings struct{ s models.VenueSettings }

func (s staticSettings) Settings(context.Context, string) (*models.VenueSettings, error) {
	v := s.s
	return &v, nil
}

func TestPolicy_VenueOverride(t *testing.T) {
	c := clock.Fake(lateEvening)
	p, err := NewPolicy(testConfig(), NewMemoryWindowStore(c), logger.NewNoOpLogger(),
		WithPolicyClock(c), WithSettings(staticSettings{models.VenueSettings{QuietStart: "02:00", QuietEnd: "05:00"}}))
	require.NoError(t, err)

	n := customerNotification()
	n.VenueID = "venue-1"
	d, err := p.Evaluate(context.Background(), ActionSend, n)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "venue window replaces the global one")
}

func TestPolicy_Throttle(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := clock.Fake(start)
	auditor := &recordingAuditor{}
	p := newTestPolicy(t, c, auditor)
	ctx := context.Background()
	n := customerNotification()

	t.Run("evaluate does not consume budget", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			d, err := p.Evaluate(ctx, ActionResend, n)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}
	})

	t.Run("admit blocks past the limit", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			d, err := p.Admit(ctx, ActionSend, n)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}
		c.Advance(10 * time.Second)
		d, err := p.Admit(ctx, ActionSend, n)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, models.ReasonThrottled, d.Reason)
		require.NotNil(t, d.Throttle)
		assert.Equal(t, 2, d.Throttle.Limit)
		assert.Equal(t, 60, d.Throttle.WindowSeconds)
		assert.True(t, d.Throttle.ResetAt.Equal(start.Add(time.Minute)))

		d, err = p.Evaluate(ctx, ActionResend, n)
		require.NoError(t, err)
		assert.False(t, d.Allowed, "evaluate sees the spent window")
	})

	t.Run("other channels have their own window", func(t *testing.T) {
		sms := customerNotification()
		sms.Channel = models.ChannelSMS
		d, err := p.Admit(ctx, ActionSend, sms)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("next window resets", func(t *testing.T) {
		c.Advance(time.Minute)
		d, err := p.Admit(ctx, ActionSend, n)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

type failingWindows struct{}

func (failingWindows) Peek(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, stderrors.New("connection refused")
}

func (failingWindows) Incr(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, stderrors.New("connection refused")
}

func TestPolicy_WindowStoreFailure(t *testing.T) {
	c := clock.Fake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	auditor := &recordingAuditor{}
	p, err := NewPolicy(testConfig(), failingWindows{}, logger.NewNoOpLogger(), WithPolicyClock(c), WithAuditor(auditor))
	require.NoError(t, err)

	_, err = p.Admit(context.Background(), ActionSend, customerNotification())
	require.Error(t, err)
	assert.Equal(t, errors.KindTransient, errors.KindOf(err))
	assert.Equal(t, DecisionError, auditor.last().Decision)
}

// ==========================
// Window stores
// ==========================

func TestRedisWindowStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := clock.Fake(start.Add(15 * time.Second))
	store := NewRedisWindowStore(client, "dinein:", c)
	ctx := context.Background()

	count, resetAt, err := store.Peek(ctx, "template", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.True(t, resetAt.Equal(start.Add(time.Minute)))

	for i := 1; i <= 3; i++ {
		count, _, err = store.Incr(ctx, "template", time.Minute)
		require.NoError(t, err)
		assert.EqualValues(t, i, count)
	}

	key := "dinein:throttle:template:" + strconv.FormatInt(start.Unix(), 10)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 2*time.Minute, mr.TTL(key))

	c.Advance(time.Minute)
	count, _, err = store.Peek(ctx, "template", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryWindowStore(t *testing.T) {
	c := clock.Fake(time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC))
	store := NewMemoryWindowStore(c)
	ctx := context.Background()

	_, _, _ = store.Incr(ctx, "sms", time.Minute)
	count, resetAt, _ := store.Incr(ctx, "sms", time.Minute)
	assert.EqualValues(t, 2, count)
	assert.True(t, resetAt.Equal(time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC)))

	c.Advance(30 * time.Second)
	count, _, _ = store.Peek(ctx, "sms", time.Minute)
	assert.Zero(t, count)
}

// ==========================
// Queue
// ==========================

func newTestQueue(t *testing.T, c clock.Clock) (*Queue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewQueue(db, RetryPolicyFromConfig(testConfig()), time.Minute, c, logger.NewTestLogger(t)), mock
}

func TestRetryPolicy_Backoff(t *testing.T) {
	r := RetryPolicyFromConfig(testConfig())
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{5, 480 * time.Second},
		{6, 900 * time.Second},
		{12, 900 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestQueue_Enqueue(t *testing.T) {
	t.Run("missing recipient is never stored", func(t *testing.T) {
		q, mock := newTestQueue(t, clock.Fake(lateEvening))
		n := customerNotification()
		n.ToAddress = "   "

		err := q.Enqueue(context.Background(), n)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeMissingRecipient))
		assert.Equal(t, errors.KindValidation, errors.KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stores queued row", func(t *testing.T) {
		q, mock := newTestQueue(t, clock.Fake(lateEvening))
		n := OrderStatusCustomer(&models.Order{ID: "7e6d5c4b-3a29-4817-9605-f4e3d2c1b0a9", Code: "K7P2QX", SubjectID: "+250788000111"},
			models.OrderPaid, "")

		mock.ExpectExec("INSERT INTO notifications").
			WithArgs(sqlmock.AnyArg(), "+250788000111", models.TypeOrderPaidCustomer, "template", sqlmock.AnyArg(),
				nil, nil, "7e6d5c4b-3a29-4817-9605-f4e3d2c1b0a9", lateEvening).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, q.Enqueue(context.Background(), n))
		assert.NotEmpty(t, n.ID)
		assert.Equal(t, models.NotificationQueued, n.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

var notificationCols = []string{"id", "to_address", "type", "channel", "payload", "status", "retry_count",
	"next_attempt_at", "locked_at", "deliver_after", "error_message", "venue_id", "order_id", "created_at"}

func notificationRow(status models.NotificationStatus, retries int) *sqlmock.Rows {
	payload := []byte(`{"template":{"name":"order_paid_customer","language":"en","parameters":["K7P2QX"]}}`)
	return sqlmock.NewRows(notificationCols).AddRow(notificationID, "+250788000111", models.TypeOrderPaidCustomer,
		"template", payload, string(status), retries, nil, nil, nil, "provider timeout", "", "", lateEvening.Add(-time.Hour))
}

func TestQueue_Get(t *testing.T) {
	q, mock := newTestQueue(t, clock.Fake(lateEvening))
	mock.ExpectQuery("SELECT (.+) FROM notifications WHERE id").
		WithArgs(notificationID).
		WillReturnRows(notificationRow(models.NotificationFailed, 3))

	n, err := q.Get(context.Background(), notificationID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationFailed, n.Status)
	assert.Equal(t, 3, n.RetryCount)
	require.NotNil(t, n.Payload.Template)
	assert.Equal(t, []string{"K7P2QX"}, n.Payload.Template.Parameters)

	_, err = q.Get(context.Background(), "not-a-uuid")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_Claim(t *testing.T) {
	q, mock := newTestQueue(t, clock.Fake(lateEvening))
	mock.ExpectQuery("UPDATE notifications SET locked_at(.+)FOR UPDATE SKIP LOCKED").
		WithArgs(lateEvening.UTC(), lateEvening.Add(-time.Minute).UTC(), 10).
		WillReturnRows(notificationRow(models.NotificationQueued, 0))

	claimed, err := q.Claim(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, notificationID, claimed[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_MarkFailed(t *testing.T) {
	t.Run("reschedules with backoff", func(t *testing.T) {
		q, mock := newTestQueue(t, clock.Fake(lateEvening))
		mock.ExpectExec("UPDATE notifications(.+)status <> 'cancelled'").
			WithArgs(notificationID, "queued", 2, lateEvening.Add(time.Minute).UTC(), "boom").
			WillReturnResult(sqlmock.NewResult(0, 1))

		n := customerNotification()
		n.RetryCount = 1
		status, err := q.MarkFailed(context.Background(), n, stderrors.New("boom"))
		require.NoError(t, err)
		assert.Equal(t, models.NotificationQueued, status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails at max retries", func(t *testing.T) {
		q, mock := newTestQueue(t, clock.Fake(lateEvening))
		mock.ExpectExec("UPDATE notifications").
			WithArgs(notificationID, "failed", 5, nil, "boom").
			WillReturnResult(sqlmock.NewResult(0, 1))

		n := customerNotification()
		n.RetryCount = 4
		status, err := q.MarkFailed(context.Background(), n, stderrors.New("boom"))
		require.NoError(t, err)
		assert.Equal(t, models.NotificationFailed, status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// ==========================
// Admin
// ==========================

func newTestAdmin(t *testing.T, at time.Time) (*Admin, sqlmock.Sqlmock, *recordingAuditor) {
	t.Helper()
	c := clock.Fake(at)
	q, mock := newTestQueue(t, c)
	auditor := &recordingAuditor{}
	return NewAdmin(q, newTestPolicy(t, c, auditor), auditor, logger.NewTestLogger(t)), mock, auditor
}

func TestAdmin_ResendBlockedDuringQuietHours(t *testing.T) {
	admin, mock, auditor := newTestAdmin(t, lateEvening)
	mock.ExpectQuery("SELECT (.+) FROM notifications WHERE id").
		WithArgs(notificationID).
		WillReturnRows(notificationRow(models.NotificationFailed, 3))

	out, err := admin.Resend(context.Background(), notificationID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeBlocked, out.Status)
	assert.Equal(t, models.ReasonQuietHours, out.Reason)
	require.NotNil(t, out.BlockedAt)
	assert.Equal(t, lateEvening, *out.BlockedAt)
	require.NotNil(t, out.BlockedUntil)
	assert.Equal(t, time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC), *out.BlockedUntil)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"blocked_at":"2026-03-10T23:05:00Z"`)

	// No UPDATE was expected: status and retry count stay as they were.
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, DecisionBlock, auditor.last().Decision)
}

func TestAdmin_ResendAllowed(t *testing.T) {
	admin, mock, auditor := newTestAdmin(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	mock.ExpectQuery("SELECT (.+) FROM notifications WHERE id").
		WithArgs(notificationID).
		WillReturnRows(notificationRow(models.NotificationFailed, 3))
	mock.ExpectExec("SET status = 'queued', retry_count = 0, next_attempt_at = NULL, locked_at = NULL, error_message = NULL").
		WithArgs(notificationID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := admin.Resend(context.Background(), notificationID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeQueued, out.Status)
	assert.Equal(t, DecisionAllow, auditor.last().Decision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmin_ResendCancelled(t *testing.T) {
	admin, mock, _ := newTestAdmin(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	mock.ExpectQuery("SELECT (.+) FROM notifications WHERE id").
		WillReturnRows(notificationRow(models.NotificationCancelled, 1))

	_, err := admin.Resend(context.Background(), notificationID)
	assert.Equal(t, errors.KindStateConflict, errors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmin_Retry(t *testing.T) {
	admin, mock, _ := newTestAdmin(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	mock.ExpectQuery("SELECT (.+) FROM notifications WHERE id").
		WithArgs(notificationID).
		WillReturnRows(notificationRow(models.NotificationFailed, 5))
	mock.ExpectExec("SET status = 'queued'").
		WithArgs(notificationID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	out := admin.Retry(context.Background(), []string{notificationID, "missing"})
	require.Len(t, out, 2)
	assert.Equal(t, models.OutcomeQueued, out[0].Status)
	assert.Equal(t, models.OutcomeError, out[1].Status)
	assert.Equal(t, "missing", out[1].ID)
	assert.Equal(t, "notification not found.", out[1].Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmin_RetryBlockedCarriesWindow(t *testing.T) {
	admin, mock, _ := newTestAdmin(t, lateEvening)
	mock.ExpectQuery("SELECT (.+) FROM notifications WHERE id").
		WithArgs(notificationID).
		WillReturnRows(notificationRow(models.NotificationFailed, 5))

	out := admin.Retry(context.Background(), []string{notificationID})
	require.Len(t, out, 1)
	assert.Equal(t, models.OutcomeBlocked, out[0].Status)
	require.NotNil(t, out[0].BlockedAt)
	require.NotNil(t, out[0].BlockedUntil)
	assert.True(t, out[0].BlockedUntil.After(*out[0].BlockedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmin_Cancel(t *testing.T) {
	t.Run("queued row", func(t *testing.T) {
		admin, mock, auditor := newTestAdmin(t, lateEvening)
		mock.ExpectQuery("SELECT (.+) FROM notifications WHERE id").
			WillReturnRows(notificationRow(models.NotificationQueued, 0))
		mock.ExpectExec("SET status = 'cancelled'").
			WithArgs(notificationID, "customer left").
			WillReturnResult(sqlmock.NewResult(0, 1))

		out, err := admin.Cancel(context.Background(), notificationID, "customer left")
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeCancelled, out.Status)
		assert.Equal(t, ActionCancel, auditor.last().Action)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sent row is terminal", func(t *testing.T) {
		admin, mock, auditor := newTestAdmin(t, lateEvening)
		mock.ExpectQuery("SELECT (.+) FROM notifications WHERE id").
			WillReturnRows(notificationRow(models.NotificationSent, 0))
		mock.ExpectExec("SET status = 'cancelled'").
			WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := admin.Cancel(context.Background(), notificationID, "")
		assert.Equal(t, errors.KindStateConflict, errors.KindOf(err))
		assert.Equal(t, DecisionError, auditor.last().Decision)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// ==========================
// Transport
// ==========================

type fakeWhatsApp struct {
	err       error
	templates []string
	texts     []string
}

func (f *fakeWhatsApp) SendTemplate(_ context.Context, _, name, _ string, _ []string) (string, error) {
	f.templates = append(f.templates, name)
	return "wamid.1", f.err
}

func (f *fakeWhatsApp) SendText(_ context.Context, _, body string) (string, error) {
	f.texts = append(f.texts, body)
	return "wamid.2", f.err
}

type fakeSMS struct{ messages []string }

func (f *fakeSMS) SendSMS(_ context.Context, _, message string) (string, error) {
	f.messages = append(f.messages, message)
	return "sns-1", nil
}

type fakeEmail struct{ subjects []string }

func (f *fakeEmail) SendText(_ context.Context, _, subject, _ string) (string, error) {
	f.subjects = append(f.subjects, subject)
	return "ses-1", nil
}

func TestTransport_Send(t *testing.T) {
	ctx := context.Background()
	order := &models.Order{ID: "o1", Code: "K7P2QX", SubjectID: "+250788000111", TotalMinor: 4000, Currency: "RWF"}

	t.Run("template over whatsapp", func(t *testing.T) {
		wa, sms := &fakeWhatsApp{}, &fakeSMS{}
		id, err := NewTransport(wa, sms, nil, logger.NewNoOpLogger()).Send(ctx, OrderStatusCustomer(order, models.OrderServed, ""))
		require.NoError(t, err)
		assert.Equal(t, "wamid.1", id)
		assert.Equal(t, []string{models.TypeOrderServedCustomer}, wa.templates)
		assert.Empty(t, sms.messages)
	})

	t.Run("rejected whatsapp falls back to sms", func(t *testing.T) {
		wa := &fakeWhatsApp{err: &commonhttp.StatusError{StatusCode: 400, Body: "outside window"}}
		sms := &fakeSMS{}
		id, err := NewTransport(wa, sms, nil, logger.NewNoOpLogger()).Send(ctx, OrderStatusCustomer(order, models.OrderServed, ""))
		require.NoError(t, err)
		assert.Equal(t, "sns-1", id)
		assert.Equal(t, []string{"Order K7P2QX has been served. Enjoy!"}, sms.messages)
	})

	t.Run("throttled whatsapp is retried later", func(t *testing.T) {
		wa := &fakeWhatsApp{err: &commonhttp.StatusError{StatusCode: 429}}
		sms := &fakeSMS{}
		_, err := NewTransport(wa, sms, nil, logger.NewNoOpLogger()).Send(ctx, OrderStatusCustomer(order, models.OrderServed, ""))
		require.Error(t, err)
		assert.Empty(t, sms.messages)
	})

	t.Run("email digest", func(t *testing.T) {
		email := &fakeEmail{}
		_, err := NewTransport(nil, nil, email, logger.NewNoOpLogger()).Send(ctx, OrderDigestEmail("orders@bar.rw", order, nil))
		require.NoError(t, err)
		assert.Equal(t, []string{"New order K7P2QX"}, email.subjects)
	})

	t.Run("unconfigured channel", func(t *testing.T) {
		n := customerNotification()
		n.Channel = models.ChannelSMS
		_, err := NewTransport(nil, nil, nil, logger.NewNoOpLogger()).Send(ctx, n)
		assert.True(t, errors.HasCode(err, errors.ErrCodeNotificationSendFailed))
	})
}

// ==========================
// Templates
// ==========================

func TestTemplates(t *testing.T) {
	order := &models.Order{ID: "o1", VenueID: "v1", Code: "K7P2QX", SubjectID: "+250788000111", TotalMinor: 4000, Currency: "RWF"}

	n := OrderCreatedVendor("+250788999000", order)
	assert.Equal(t, []string{"K7P2QX", "Counter", "RWF 4,000"}, n.Payload.Template.Parameters)
	assert.Equal(t, "v1", n.VenueID)

	cancelled := OrderStatusCustomer(order, models.OrderCancelled, "")
	assert.Equal(t, "Order K7P2QX was cancelled: Order cancelled", RenderText(cancelled.Payload))
	assert.Nil(t, OrderStatusCustomer(order, models.OrderPending, ""))

	invite := StaffInvite("+250788999000", "v1", "Kigali Heights", "123456", 24)
	assert.Equal(t, models.ChannelFreeform, invite.Channel)
	assert.Equal(t, "Kigali Heights invite: reply with CODE 123456 within 24h to activate your staff access.", invite.Payload.Text)
}
