// Package staff invites phone numbers to a venue and verifies their one-time codes.
package staff

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/config"
	"dinein-commerce/internal/common/database"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/common/validation"
	"dinein-commerce/internal/models"
	"dinein-commerce/internal/notify"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

const (
	codeDigits      = 6
	hashLength      = 32
	genericFailure  = "invalid or expired code"
	defaultCountry  = "250"
	maxInviteLookup = 10
)

// Venues resolves the venue name used in the invite text.
type Venues interface {
	GetVenue(ctx context.Context, id string) (*models.Venue, error)
}

// Enqueuer queues the invite message.
type Enqueuer interface {
	Enqueue(ctx context.Context, n *models.Notification) error
}

// Service issues and checks staff invites.
type Service struct {
	db       *sql.DB
	venues   Venues
	notifier Enqueuer
	cfg      config.StaffConfig
	clock    clock.Clock
	newCode  func() (string, error)
	logger   logger.Logger
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithCodeSource replaces the random code generator.
func WithCodeSource(fn func() (string, error)) Option { return func(s *Service) { s.newCode = fn } }

func NewService(db *sql.DB, venues Venues, notifier Enqueuer, cfg config.StaffConfig, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		db:       db,
		venues:   venues,
		notifier: notifier,
		cfg:      cfg,
		clock:    clock.Real(),
		newCode:  randomCode,
		logger:   log.WithFields(map[string]interface{}{"component": "staff"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// hash is argon2id over the code, salted with the venue and number it was issued to.
func (s *Service) hash(venueID, number, code string) string {
	a := s.cfg.Argon2
	salt := []byte(venueID + ":" + number)
	return hex.EncodeToString(argon2.IDKey([]byte(code), salt, a.Time, a.Memory, a.Threads, hashLength))
}

// InviteStaff attaches number to the venue with a fresh code and sends the code once.
// Re-inviting a number replaces its pending code and resets the attempt counter.
func (s *Service) InviteStaff(ctx context.Context, venueID, rawNumber string, role models.StaffRole) (*models.VenueNumber, error) {
	number, ok := validation.NormalizePhone(rawNumber, defaultCountry)
	if !ok {
		return nil, errors.NewValidationError("Enter a valid phone number, e.g. +250788123456.")
	}
	if role != models.RoleManager {
		role = models.RoleStaff
	}
	venue, err := s.venues.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}

	code, err := s.newCode()
	if err != nil {
		return nil, errors.NewTransientError("generate invite code", err)
	}
	ttl := time.Duration(s.cfg.InviteTTLHours) * time.Hour
	expires := s.clock.Now().Add(ttl).UTC()

	inv := &models.VenueNumber{
		VenueID:               venueID,
		NumberAddress:         number,
		Role:                  role,
		IsActive:              true,
		VerificationExpiresAt: &expires,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO venue_numbers (id, venue_id, number_address, role, is_active, verification_code_hash,
			verification_expires_at, verification_attempts, verified_at)
		VALUES ($1, $2, $3, $4, true, $5, $6, 0, NULL)
		ON CONFLICT (venue_id, number_address) DO UPDATE SET
			role = EXCLUDED.role,
			is_active = true,
			verification_code_hash = EXCLUDED.verification_code_hash,
			verification_expires_at = EXCLUDED.verification_expires_at,
			verification_attempts = 0,
			verified_at = NULL
		RETURNING id`,
		uuid.NewString(), venueID, number, string(role), s.hash(venueID, number, code), expires).Scan(&inv.ID)
	if err != nil {
		return nil, errors.WrapQuery("upsert_staff_invite", err)
	}

	msg := notify.StaffInvite(number, venueID, venue.Name, code, s.cfg.InviteTTLHours)
	if err := s.notifier.Enqueue(ctx, msg); err != nil {
		return nil, err
	}
	s.logger.Info("staff invited", map[string]interface{}{
		"venueId": venueID,
		"number":  logger.MaskPhone(number),
		"role":    role,
	})
	return inv, nil
}

type pendingInvite struct {
	id      string
	venueID string
	role    models.StaffRole
	hash    string
}

// VerifyCode checks code against every live invite for number. A match marks the invite
// verified and opens a vendor session. Any failure returns the same security error.
func (s *Service) VerifyCode(ctx context.Context, rawNumber, code string) (*models.StaffSession, error) {
	number, ok := validation.NormalizePhone(rawNumber, defaultCountry)
	code = strings.TrimSpace(code)
	if !ok || len(code) != codeDigits {
		return nil, errors.NewSecurityError(genericFailure)
	}

	now := s.clock.Now().UTC()
	pending, err := s.pendingInvites(ctx, number, now)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		s.logger.Warn("staff code without live invite", map[string]interface{}{"number": logger.MaskPhone(number)})
		return nil, errors.NewSecurityError(genericFailure)
	}

	for _, inv := range pending {
		want := s.hash(inv.venueID, number, code)
		if subtle.ConstantTimeCompare([]byte(want), []byte(inv.hash)) != 1 {
			continue
		}
		session := &models.StaffSession{NumberAddress: number, VenueID: inv.venueID, Role: inv.role, CreatedAt: now}
		if err := s.accept(ctx, inv, session); err != nil {
			return nil, err
		}
		s.logger.Info("staff verified", map[string]interface{}{
			"venueId": inv.venueID,
			"number":  logger.MaskPhone(number),
		})
		return session, nil
	}

	// Most recent invite carries the failed attempt.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE venue_numbers SET verification_attempts = verification_attempts + 1 WHERE id = $1`, pending[0].id); err != nil {
		return nil, errors.WrapQuery("count_staff_attempt", err)
	}
	s.logger.Warn("staff code mismatch", map[string]interface{}{"number": logger.MaskPhone(number)})
	return nil, errors.NewSecurityError(genericFailure)
}

func (s *Service) pendingInvites(ctx context.Context, number string, now time.Time) ([]pendingInvite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, role, verification_code_hash FROM venue_numbers
		WHERE number_address = $1 AND is_active
		  AND verification_code_hash IS NOT NULL
		  AND verification_expires_at > $2
		  AND verification_attempts < $3
		ORDER BY verification_expires_at DESC
		LIMIT $4`, number, now, s.cfg.MaxAttempts, maxInviteLookup)
	if err != nil {
		return nil, errors.WrapQuery("pending_staff_invites", err)
	}
	defer rows.Close()

	var out []pendingInvite
	for rows.Next() {
		var (
			inv  pendingInvite
			role string
		)
		if err := rows.Scan(&inv.id, &inv.venueID, &role, &inv.hash); err != nil {
			return nil, errors.WrapQuery("pending_staff_invites", err)
		}
		inv.role = models.StaffRole(role)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *Service) accept(ctx context.Context, inv pendingInvite, session *models.StaffSession) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE venue_numbers
			SET verified_at = $2, verification_code_hash = NULL, verification_expires_at = NULL
			WHERE id = $1 AND verification_code_hash IS NOT NULL`, inv.id, session.CreatedAt)
		if err != nil {
			return errors.WrapQuery("verify_staff_invite", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewSecurityError(genericFailure)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (number_address, venue_id, role, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (number_address, venue_id) DO UPDATE SET role = EXCLUDED.role`,
			session.NumberAddress, session.VenueID, string(session.Role), session.CreatedAt)
		return errors.WrapQuery("open_staff_session", err)
	})
}

// ParseCodeMessage extracts the code from an inbound "CODE 123456" message.
func ParseCodeMessage(text string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "CODE") {
		return "", false
	}
	code := fields[1]
	if len(code) != codeDigits {
		return "", false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return code, true
}
