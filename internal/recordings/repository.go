package recordings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/posnetek/backend/internal/models"
)

var (
	// ErrNotFound is returned when no recording with the id is visible to the caller.
	ErrNotFound = errors.New("recording not found")
	// ErrUnauthenticated is returned when an operation has no owning user to scope to.
	ErrUnauthenticated = errors.New("user not authenticated")
)

const recordingColumns = `id, user_id, title, duration, COALESCE(r2_key,''), COALESCE(transcript,''), transcript_body,
	COALESCE(summary,''), status, COALESCE(language,''), client_company, client_person, created_at, updated_at`

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles recording persistence. Every statement is scoped to the owning user.
type Repository struct {
	pool DB
}

// NewRepository creates a recordings repository.
func NewRepository(pool DB) *Repository {
	return &Repository{pool: pool}
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Duration, &rec.R2Key, &rec.Transcript, &rec.TranscriptBody,
		&rec.Summary, &rec.Status, &rec.Language, &rec.ClientCompany, &rec.ClientPerson, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// GetByID returns a recording owned by userID.
func (r *Repository) GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE id = $1 AND user_id = $2`
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, id, userID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return rec, err
}

// ListByUser returns the user's recordings, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Recording, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	list := []models.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// Create inserts a recording. rec.UserID defaults to userID; rec.ID is generated when unset.
func (r *Repository) Create(ctx context.Context, userID uuid.UUID, rec *models.Recording) error {
	if rec.UserID == uuid.Nil {
		rec.UserID = userID
	}
	if rec.UserID == uuid.Nil {
		return ErrUnauthenticated
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	const q = `INSERT INTO recordings (id, user_id, title, duration, r2_key, transcript, transcript_body, summary, status, language, client_company, client_person)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, rec.ID, rec.UserID, rec.Title, rec.Duration, rec.R2Key, rec.Transcript, rec.TranscriptBody,
		rec.Summary, rec.Status, rec.Language, rec.ClientCompany, rec.ClientPerson).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	return nil
}

// Update applies a partial update and returns the updated row.
func (r *Repository) Update(ctx context.Context, userID, id uuid.UUID, patch models.RecordingPatch) (*models.Recording, error) {
	if patch.Empty() {
		return r.GetByID(ctx, userID, id)
	}
	sets, args := patchAssignments(patch)
	args = append(args, id, userID)
	q := fmt.Sprintf(`UPDATE recordings SET %s, updated_at = NOW() WHERE id = $%d AND user_id = $%d RETURNING `+recordingColumns,
		strings.Join(sets, ", "), len(args)-1, len(args))
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, args...))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("update recording: %w", err)
	}
	return rec, err
}

// UpdateStatus sets recording status.
func (r *Repository) UpdateStatus(ctx context.Context, userID, id uuid.UUID, status string) error {
	const q = `UPDATE recordings SET status = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3`
	tag, err := r.pool.Exec(ctx, q, status, id, userID)
	if err != nil {
		return fmt.Errorf("update recording status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a recording row.
func (r *Repository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// patchAssignments builds "col = $n" fragments for the non-nil patch fields.
func patchAssignments(p models.RecordingPatch) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Transcript != nil {
		add("transcript", *p.Transcript)
	}
	if p.TranscriptBody != nil {
		add("transcript_body", *p.TranscriptBody)
	}
	if p.Summary != nil {
		add("summary", *p.Summary)
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.Language != nil {
		add("language", *p.Language)
	}
	if p.SetClientFields {
		add("client_company", p.ClientCompany)
		add("client_person", p.ClientPerson)
	}
	return sets, args
}
