// Package repository keeps a local ledger of cotation save attempts.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/synchronie/cotation/internal/domain"
)

var (
	ErrNotFound     = fmt.Errorf("save record %w", domain.ErrNotFound)
	ErrInvalidInput = errors.New("invalid input")
)

const savesTable = "cotation_saves"

var saveColumns = []string{
	"id", "practitioner_id", "session_id", "seance_id", "grille_id",
	"status", "global_percent", "rated_count", "total_count",
	"payload", "message", "created_at",
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := newSQLRepository(db, cfg.Driver)

	if err := repo.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func newSQLRepository(db *sql.DB, driver string) *SQLRepository {
	format := sq.Question
	if driver == "postgres" {
		format = sq.Dollar
	}
	return &SQLRepository{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(format),
	}
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAttempt appends a save attempt to the ledger.
// A missing id or timestamp is filled in.
func (r *SQLRepository) SaveAttempt(ctx context.Context, rec *domain.SaveRecord) error {
	if rec == nil || rec.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrInvalidInput)
	}
	if rec.Status != domain.SaveStatusSaved && rec.Status != domain.SaveStatusFailed {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, rec.Status)
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query, args, err := r.sb.Insert(savesTable).
		Columns(saveColumns...).
		Values(
			rec.ID, rec.PractitionerID, rec.SessionID, rec.SeanceID, rec.GrilleID,
			rec.Status, rec.GlobalPercent, rec.Rated, rec.Total,
			string(payload), rec.Message, rec.CreatedAt,
		).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// GetAttempt retrieves a save attempt by id.
func (r *SQLRepository) GetAttempt(ctx context.Context, id string) (*domain.SaveRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}

	query, args, err := r.sb.Select(saveColumns...).
		From(savesTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListAttempts returns every attempt recorded for a seance, newest first.
func (r *SQLRepository) ListAttempts(ctx context.Context, seanceID int64) ([]*domain.SaveRecord, error) {
	query, args, err := r.sb.Select(saveColumns...).
		From(savesTable).
		Where(sq.Eq{"seance_id": seanceID}).
		OrderBy("created_at DESC", "id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.SaveRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// LatestSuccess returns a practitioner's most recent confirmed save of a grid
// for a seance.
func (r *SQLRepository) LatestSuccess(ctx context.Context, practitionerID string, seanceID, grilleID int64) (*domain.SaveRecord, error) {
	query, args, err := r.sb.Select(saveColumns...).
		From(savesTable).
		Where(sq.Eq{
			"practitioner_id": practitionerID,
			"seance_id":       seanceID,
			"grille_id":       grilleID,
			"status":          domain.SaveStatusSaved,
		}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.SaveRecord, error) {
	var rec domain.SaveRecord
	var payload string
	var message sql.NullString

	if err := row.Scan(
		&rec.ID, &rec.PractitionerID, &rec.SessionID, &rec.SeanceID, &rec.GrilleID,
		&rec.Status, &rec.GlobalPercent, &rec.Rated, &rec.Total,
		&payload, &message, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.Message = message.String

	var p domain.SavePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("failed to parse payload of save %s: %w", rec.ID, err)
	}
	rec.Payload = &p

	return &rec, nil
}
