package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for speaker persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a speaker by its unique identifier.
	// Returns ErrSpeakerNotFound if the speaker does not exist.
	GetByID(ctx context.Context, id string) (*Speaker, error)

	// List retrieves all speakers ordered by ID.
	List(ctx context.Context) ([]Speaker, error)

	// Create inserts a new speaker.
	// Returns ErrSpeakerExists if a speaker with the same ID already exists.
	Create(ctx context.Context, speaker *Speaker) error

	// Update modifies an existing speaker's configuration.
	// Returns ErrSpeakerNotFound if the speaker does not exist.
	Update(ctx context.Context, speaker *Speaker) error

	// UpdateIdentity records the device ID, name, and model learned from the
	// speaker itself. Returns ErrSpeakerNotFound if the speaker does not exist.
	UpdateIdentity(ctx context.Context, id, deviceID, name, model string) error

	// Delete removes a speaker by ID.
	// Returns ErrSpeakerNotFound if the speaker does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a speaker by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Speaker, error) {
	query := `
		SELECT id, name, host, port, device_id, model, created_at, updated_at
		FROM speakers
		WHERE id = ?`

	speaker, err := scanSpeaker(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSpeakerNotFound
		}
		return nil, fmt.Errorf("querying speaker by id: %w", err)
	}
	return speaker, nil
}

// List retrieves all speakers ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Speaker, error) {
	query := `
		SELECT id, name, host, port, device_id, model, created_at, updated_at
		FROM speakers
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying speakers: %w", err)
	}
	defer rows.Close()

	var speakers []Speaker
	for rows.Next() {
		speaker, err := scanSpeaker(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning speaker: %w", err)
		}
		speakers = append(speakers, *speaker)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating speakers: %w", err)
	}

	return speakers, nil
}

// Create inserts a new speaker.
func (r *SQLiteRepository) Create(ctx context.Context, speaker *Speaker) error {
	if err := speaker.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if speaker.CreatedAt.IsZero() {
		speaker.CreatedAt = now
	}
	speaker.UpdatedAt = now

	query := `
		INSERT INTO speakers (id, name, host, port, device_id, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		speaker.ID,
		speaker.Name,
		speaker.Host,
		speaker.Port,
		nullableString(speaker.DeviceID),
		nullableString(speaker.Model),
		speaker.CreatedAt.Format(time.RFC3339),
		speaker.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSpeakerExists
		}
		return fmt.Errorf("inserting speaker: %w", err)
	}

	return nil
}

// Update modifies an existing speaker's configuration.
func (r *SQLiteRepository) Update(ctx context.Context, speaker *Speaker) error {
	if err := speaker.Validate(); err != nil {
		return err
	}

	speaker.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE speakers
		SET name = ?, host = ?, port = ?, device_id = ?, model = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		speaker.Name,
		speaker.Host,
		speaker.Port,
		nullableString(speaker.DeviceID),
		nullableString(speaker.Model),
		speaker.UpdatedAt.Format(time.RFC3339),
		speaker.ID,
	)
	if err != nil {
		return fmt.Errorf("updating speaker: %w", err)
	}

	return requireRowAffected(result, "updating speaker")
}

// UpdateIdentity records the learned device identity.
func (r *SQLiteRepository) UpdateIdentity(ctx context.Context, id, deviceID, name, model string) error {
	now := time.Now().UTC()
	query := `
		UPDATE speakers
		SET device_id = ?, name = ?, model = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullableString(deviceID),
		name,
		nullableString(model),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating speaker identity: %w", err)
	}

	return requireRowAffected(result, "updating speaker identity")
}

// Delete removes a speaker by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM speakers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting speaker: %w", err)
	}

	return requireRowAffected(result, "deleting speaker")
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpeaker(scanner rowScanner) (*Speaker, error) {
	var s Speaker
	var deviceID, model sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&s.ID,
		&s.Name,
		&s.Host,
		&s.Port,
		&deviceID,
		&model,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if deviceID.Valid {
		s.DeviceID = deviceID.String
	}
	if model.Valid {
		s.Model = model.String
	}

	var parseErr error
	s.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	s.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &s, nil
}

// requireRowAffected converts a zero-row UPDATE/DELETE into ErrSpeakerNotFound.
func requireRowAffected(result sql.Result, op string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: checking rows affected: %w", op, err)
	}
	if rowsAffected == 0 {
		return ErrSpeakerNotFound
	}
	return nil
}

// nullableString returns a sql.NullString for optional strings.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueConstraintError detects SQLite unique constraint violations.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
