package interaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrConflict is returned by conditional transitions when the stored status
// no longer matches the expected one. A concurrent turn won the race; the
// caller must abort rather than apply its transition on top.
var ErrConflict = errors.New("interaction: status changed concurrently")

// ErrNotFound is returned when an Interaction ID does not exist.
var ErrNotFound = errors.New("interaction: not found")

// Store persists and retrieves Interactions.
type Store struct {
	db *sql.DB
}

// NewStore creates an interaction Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new Interaction. A missing ID is generated; CreatedAt is
// set to now. Statuses the physical schema does not accept yet are downgraded
// to their legacy fallback with the true status kept in the payload.
func (s *Store) Create(ctx context.Context, it *Interaction) error {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	if it.Status.Terminal() && it.CompletedAt == nil {
		t := it.CreatedAt
		it.CompletedAt = &t
	}

	status, payload := s.storableStatus(it.Status, it.Payload)
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	exec := func(st Status, pj []byte) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO interactions (id, user_id, farm_id, kind, status, received_text, payload_json, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, it.ID, it.UserID, nullable(it.FarmID), string(it.Kind), string(st), it.ReceivedText, string(pj), it.CreatedAt, nullableTime(it.CompletedAt))
		return err
	}

	if err := exec(status, payloadJSON); err != nil {
		fb, fbPayload, ok := s.fallback(err, it.Status, it.Payload)
		if !ok {
			return fmt.Errorf("failed to create interaction: %w", err)
		}
		fbJSON, merr := json.Marshal(fbPayload)
		if merr != nil {
			return fmt.Errorf("failed to marshal payload: %w", merr)
		}
		if err := exec(fb, fbJSON); err != nil {
			return fmt.Errorf("failed to create interaction (legacy status fallback): %w", err)
		}
		it.Payload = fbPayload
		return nil
	}

	it.Payload = payload
	return nil
}

// Get retrieves an Interaction by ID.
func (s *Store) Get(ctx context.Context, id string) (*Interaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, farm_id, kind, status, received_text, payload_json,
		       created_record_ref, error_detail, created_at, completed_at
		FROM interactions
		WHERE id = ?
	`, id)
	return scanInteraction(row)
}

// FindOpen returns the most recently created non-terminal Interaction for the
// user within the freshness window, optionally filtered to the given kinds.
// Older open Interactions are treated as abandoned and never returned (nor
// mutated). Returns (nil, nil) when there is none.
func (s *Store) FindOpen(ctx context.Context, userID string, kinds []Kind, window time.Duration) (*Interaction, error) {
	cutoff := time.Now().Add(-window)

	query := `
		SELECT id, user_id, farm_id, kind, status, received_text, payload_json,
		       created_record_ref, error_detail, created_at, completed_at
		FROM interactions
		WHERE user_id = ?
		  AND created_at >= ?
		  AND status NOT IN ('COMMITTED', 'CANCELLED', 'FAILED')
	`
	args := []any{userID, cutoff}

	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		query += " AND kind IN (" + strings.Join(placeholders, ", ") + ")"
	}
	// id breaks ties between rows created in the same instant so the pick
	// stays deterministic.
	query += " ORDER BY created_at DESC, id DESC LIMIT 1"

	it, err := scanInteraction(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

// UpdateTurn persists the outcome of one dialogue turn: the (possibly
// unchanged) status, the triggering message text, and the updated payload.
// The Interaction must still be open; terminal rows are never touched.
func (s *Store) UpdateTurn(ctx context.Context, id string, status Status, receivedText string, p Payload) error {
	storable, payload := s.storableStatus(status, p)
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	exec := func(st Status, pj []byte) (sql.Result, error) {
		return s.db.ExecContext(ctx, `
			UPDATE interactions
			SET status = ?, received_text = ?, payload_json = ?
			WHERE id = ? AND status NOT IN ('COMMITTED', 'CANCELLED', 'FAILED')
		`, string(st), receivedText, string(pj), id)
	}

	result, err := exec(storable, payloadJSON)
	if err != nil {
		fb, fbPayload, ok := s.fallback(err, status, p)
		if !ok {
			return fmt.Errorf("failed to update interaction: %w", err)
		}
		fbJSON, merr := json.Marshal(fbPayload)
		if merr != nil {
			return fmt.Errorf("failed to marshal payload: %w", merr)
		}
		if result, err = exec(fb, fbJSON); err != nil {
			return fmt.Errorf("failed to update interaction (legacy status fallback): %w", err)
		}
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// Complete atomically transitions an Interaction from the expected status to
// a terminal one. Zero rows affected means another turn already resolved it;
// ErrConflict is returned and the caller must not treat the transition as
// applied. This conditional update is what makes confirmation idempotent: a
// replayed "yes" finds the status no longer AWAITING_CONFIRMATION and aborts.
func (s *Store) Complete(ctx context.Context, id string, from, to Status, recordRef, errorDetail string) error {
	if !to.Terminal() {
		return fmt.Errorf("interaction: %q is not a terminal status", to)
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE interactions
		SET status = ?, created_record_ref = ?, error_detail = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(to), nullable(recordRef), nullable(errorDetail), now, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to complete interaction: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// storableStatus clears a stale PendingStatus flag before the intended status
// is written directly.
func (s *Store) storableStatus(status Status, p Payload) (Status, Payload) {
	p.PendingStatus = ""
	return status, p
}

// fallback inspects a write error; when it is a CHECK-constraint rejection of
// a not-yet-migrated status, it returns the nearest legacy status plus a
// payload carrying the true status as an authoritative side flag.
func (s *Store) fallback(err error, intended Status, p Payload) (Status, Payload, bool) {
	if err == nil || !strings.Contains(err.Error(), "CHECK constraint failed") {
		return "", Payload{}, false
	}
	fb, ok := legacyFallback[intended]
	if !ok {
		return "", Payload{}, false
	}
	p.PendingStatus = intended
	return fb, p, true
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (*Interaction, error) {
	it := &Interaction{}
	var farmID, recordRef, errorDetail sql.NullString
	var completedAt sql.NullTime
	var kind, status, payloadJSON string

	err := row.Scan(&it.ID, &it.UserID, &farmID, &kind, &status, &it.ReceivedText,
		&payloadJSON, &recordRef, &errorDetail, &it.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan interaction: %w", err)
	}

	it.Kind = Kind(kind)
	it.Status = Status(status)
	it.FarmID = farmID.String
	it.CreatedRecordRef = recordRef.String
	it.ErrorDetail = errorDetail.String
	if completedAt.Valid {
		t := completedAt.Time
		it.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(payloadJSON), &it.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode interaction payload: %w", err)
	}
	return it, nil
}
