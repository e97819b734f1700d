// Package guard intercepts conversational keywords before any flow sees the message:
// STOP/UNSUBSCRIBE opt a subject out, START opts back in and HOME/MENU reset the conversation.
package guard

import (
	"context"
	"database/sql"
	"strings"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/flows"
)

const (
	MsgOptedOut = "You're unsubscribed and won't get more messages from us. Reply START to opt back in."
	MsgOptedIn  = "Welcome back! You'll receive messages from us again."
)

// Keyword is a whole-message command understood regardless of the current screen.
type Keyword int

const (
	KeywordNone Keyword = iota
	KeywordStop
	KeywordStart
	KeywordHome
)

// ParseKeyword matches the whole trimmed message, case-insensitively.
func ParseKeyword(text string) Keyword {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "STOP", "UNSUBSCRIBE":
		return KeywordStop
	case "START":
		return KeywordStart
	case "HOME", "MENU":
		return KeywordHome
	}
	return KeywordNone
}

// ==========================
// Preferences
// ==========================

// Preferences records who asked not to be messaged.
type Preferences interface {
	OptedOut(ctx context.Context, subjectID string) (bool, error)
	SetOptedOut(ctx context.Context, subjectID string, optedOut bool) error
}

// PostgresPreferences keeps opt-outs in contact_preferences.
type PostgresPreferences struct {
	db    *sql.DB
	clock clock.Clock
}

func NewPostgresPreferences(db *sql.DB, c clock.Clock) *PostgresPreferences {
	if c == nil {
		c = clock.Real()
	}
	return &PostgresPreferences{db: db, clock: c}
}

// OptedOut is false for subjects with no row.
func (p *PostgresPreferences) OptedOut(ctx context.Context, subjectID string) (bool, error) {
	var out bool
	err := p.db.QueryRowContext(ctx,
		`SELECT opted_out FROM contact_preferences WHERE subject_id = $1`, subjectID).Scan(&out)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.WrapQuery("get_contact_preference", err)
	}
	return out, nil
}

func (p *PostgresPreferences) SetOptedOut(ctx context.Context, subjectID string, optedOut bool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO contact_preferences (subject_id, opted_out, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE SET opted_out = EXCLUDED.opted_out, updated_at = EXCLUDED.updated_at`,
		subjectID, optedOut, p.clock.Now().UTC())
	if err != nil {
		return errors.WrapQuery("set_contact_preference", err)
	}
	return nil
}

// ==========================
// Guard
// ==========================

// Conversation is the flow engine behind the guard.
type Conversation interface {
	Handle(ctx context.Context, in flows.Input) ([]flows.Reply, error)
	Home(ctx context.Context, subjectID string) ([]flows.Reply, error)
	Reset(ctx context.Context, subjectID string) error
}

// Guard wraps a Conversation with the keyword and opt-out rules.
type Guard struct {
	prefs  Preferences
	next   Conversation
	logger logger.Logger
}

func New(prefs Preferences, next Conversation, log logger.Logger) *Guard {
	return &Guard{
		prefs:  prefs,
		next:   next,
		logger: log.WithFields(map[string]interface{}{"component": "guard"}),
	}
}

// Handle answers keywords itself and passes everything else on. Opted-out subjects get
// no reply to anything but START.
func (g *Guard) Handle(ctx context.Context, in flows.Input) ([]flows.Reply, error) {
	log := g.logger.WithFields(map[string]interface{}{"subject": logger.MaskPhone(in.SubjectID)})
	kw := KeywordNone
	if in.ReplyID == "" {
		kw = ParseKeyword(in.Text)
	}

	switch kw {
	case KeywordStop:
		if err := g.prefs.SetOptedOut(ctx, in.SubjectID, true); err != nil {
			return nil, err
		}
		// Opting out drops wherever the subject was in a flow.
		if err := g.next.Reset(ctx, in.SubjectID); err != nil {
			return nil, err
		}
		log.Info("subject opted out", nil)
		return []flows.Reply{{Text: MsgOptedOut}}, nil
	case KeywordStart:
		if err := g.prefs.SetOptedOut(ctx, in.SubjectID, false); err != nil {
			return nil, err
		}
		log.Info("subject opted in", nil)
		home, err := g.next.Home(ctx, in.SubjectID)
		if err != nil {
			return nil, err
		}
		return append([]flows.Reply{{Text: MsgOptedIn}}, home...), nil
	}

	out, err := g.prefs.OptedOut(ctx, in.SubjectID)
	if err != nil {
		return nil, err
	}
	if out {
		log.Debug("ignoring message from opted-out subject", nil)
		return nil, nil
	}
	if kw == KeywordHome {
		return g.next.Home(ctx, in.SubjectID)
	}
	return g.next.Handle(ctx, in)
}

// Allowed reports whether outbound messages may go to subjectID. The delivery worker uses it
// to cancel queued messages for opted-out contacts.
func (g *Guard) Allowed(ctx context.Context, subjectID string) (bool, error) {
	out, err := g.prefs.OptedOut(ctx, subjectID)
	return !out, err
}
