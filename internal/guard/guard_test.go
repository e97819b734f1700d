package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/flows"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subject = "+250788000333"

type memoryPrefs struct{ out map[string]bool }

func (m *memoryPrefs) OptedOut(_ context.Context, id string) (bool, error) { return m.out[id], nil }

func (m *memoryPrefs) SetOptedOut(_ context.Context, id string, v bool) error {
	m.out[id] = v
	return nil
}

type recordingConversation struct {
	handled  []flows.Input
	homes    int
	resets   []string
	resetErr error
}

func (c *recordingConversation) Handle(_ context.Context, in flows.Input) ([]flows.Reply, error) {
	c.handled = append(c.handled, in)
	return []flows.Reply{{Text: "flow reply"}}, nil
}

func (c *recordingConversation) Home(context.Context, string) ([]flows.Reply, error) {
	c.homes++
	return []flows.Reply{{Text: "home"}}, nil
}

func (c *recordingConversation) Reset(_ context.Context, subjectID string) error {
	if c.resetErr != nil {
		return c.resetErr
	}
	c.resets = append(c.resets, subjectID)
	return nil
}

func newGuard(t *testing.T) (*Guard, *memoryPrefs, *recordingConversation) {
	prefs := &memoryPrefs{out: map[string]bool{}}
	conv := &recordingConversation{}
	return New(prefs, conv, logger.NewTestLogger(t)), prefs, conv
}

// ==========================
// Keywords
// ==========================

func TestParseKeyword(t *testing.T) {
	tests := []struct {
		in   string
		want Keyword
	}{
		{"STOP", KeywordStop},
		{" unsubscribe ", KeywordStop},
		{"Start", KeywordStart},
		{"home", KeywordHome},
		{"MENU", KeywordHome},
		{"stop please", KeywordNone},
		{"", KeywordNone},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseKeyword(tt.in))
		})
	}
}

// ==========================
// Guard
// ==========================

func TestGuard_StopThenSilenceThenStart(t *testing.T) {
	g, prefs, conv := newGuard(t)
	ctx := context.Background()

	replies, err := g.Handle(ctx, flows.Input{SubjectID: subject, Text: "stop"})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, MsgOptedOut, replies[0].Text)
	assert.True(t, prefs.out[subject])
	assert.Equal(t, []string{subject}, conv.resets, "opting out drops the conversation state")

	replies, err = g.Handle(ctx, flows.Input{SubjectID: subject, Text: "hi"})
	require.NoError(t, err)
	assert.Empty(t, replies)
	assert.Empty(t, conv.handled)

	replies, err = g.Handle(ctx, flows.Input{SubjectID: subject, Text: "MENU"})
	require.NoError(t, err)
	assert.Empty(t, replies)

	replies, err = g.Handle(ctx, flows.Input{SubjectID: subject, Text: "START"})
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, MsgOptedIn, replies[0].Text)
	assert.Equal(t, "home", replies[1].Text)
	assert.False(t, prefs.out[subject])

	allowed, err := g.Allowed(ctx, subject)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestGuard_HomeKeywordResets(t *testing.T) {
	g, _, conv := newGuard(t)

	replies, err := g.Handle(context.Background(), flows.Input{SubjectID: subject, Text: "Home"})
	require.NoError(t, err)
	assert.Equal(t, "home", replies[0].Text)
	assert.Equal(t, 1, conv.homes)
	assert.Empty(t, conv.handled)
}

func TestGuard_PassesThroughOtherInput(t *testing.T) {
	g, _, conv := newGuard(t)

	// A button whose id happens to be "stop" is not a keyword.
	_, err := g.Handle(context.Background(), flows.Input{SubjectID: subject, Text: "STOP", ReplyID: "stop"})
	require.NoError(t, err)
	require.Len(t, conv.handled, 1)
	assert.Equal(t, "stop", conv.handled[0].ReplyID)
}

func TestGuard_StopResetFailureIsReturned(t *testing.T) {
	g, prefs, conv := newGuard(t)
	conv.resetErr = errors.New("db down")

	replies, err := g.Handle(context.Background(), flows.Input{SubjectID: subject, Text: "STOP"})
	assert.Error(t, err)
	assert.Empty(t, replies)
	assert.True(t, prefs.out[subject], "the opt-out itself is kept")
}

type failingPrefs struct{}

func (failingPrefs) OptedOut(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}
func (failingPrefs) SetOptedOut(context.Context, string, bool) error { return errors.New("db down") }

func TestGuard_PreferenceFailureIsReturned(t *testing.T) {
	g := New(failingPrefs{}, &recordingConversation{}, logger.NewTestLogger(t))
	_, err := g.Handle(context.Background(), flows.Input{SubjectID: subject, Text: "hello"})
	assert.Error(t, err)
}

// ==========================
// Postgres preferences
// ==========================

func TestPostgresPreferences(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	prefs := NewPostgresPreferences(db, clock.Fake(now))
	ctx := context.Background()

	mock.ExpectQuery("SELECT opted_out FROM contact_preferences").
		WithArgs(subject).
		WillReturnRows(sqlmock.NewRows([]string{"opted_out"}))
	out, err := prefs.OptedOut(ctx, subject)
	require.NoError(t, err)
	assert.False(t, out)

	mock.ExpectExec("INSERT INTO contact_preferences").
		WithArgs(subject, true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, prefs.SetOptedOut(ctx, subject, true))

	mock.ExpectQuery("SELECT opted_out FROM contact_preferences").
		WithArgs(subject).
		WillReturnRows(sqlmock.NewRows([]string{"opted_out"}).AddRow(true))
	out, err = prefs.OptedOut(ctx, subject)
	require.NoError(t, err)
	assert.True(t, out)

	assert.NoError(t, mock.ExpectationsWereMet())
}
