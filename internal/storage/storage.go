package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Storage is the PostgreSQL-backed job record store and content persistence
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// JobFilter selects a page of jobs
type JobFilter struct {
	UserID   string
	Kind     string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last job on the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// CreateJob inserts a new job row. The row must be pending.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("%w: new jobs must be pending, got %s", domain.ErrInvalidTransition, job.Status)
	}

	query := `
		INSERT INTO jobs (
			job_id, user_id, prompt, content_type,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.OwnerID,
		job.Prompt,
		job.Kind,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by id
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job := row.toDomain()
	return &job, nil
}

// Transition moves a job to a new status. The stored status is locked and compared
// before the write: re-applying the current status returns applied=false without writing,
// and a backwards or terminal-to-terminal move returns ErrInvalidTransition.
func (s *Storage) Transition(ctx context.Context, jobID string, to domain.Status, update domain.TransitionUpdate) (bool, error) {
	if err := domain.ValidateUpdate(to, update); err != nil {
		return false, err
	}

	var applied bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		noop, err := lockAndCheck(ctx, tx, jobID, to)
		if err != nil || noop {
			return err
		}

		if err := applyTransition(ctx, tx, jobID, to, update); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.logger.Debug("Job status updated",
			slog.String("job_id", jobID),
			slog.String("status", string(to)),
		)
	}

	return applied, nil
}

// CompleteJob persists the generated content and marks the job completed in one transaction.
// When the job is already completed nothing is written and applied is false.
func (s *Storage) CompleteJob(ctx context.Context, jobID string, content *domain.Content) (bool, error) {
	var applied bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		noop, err := lockAndCheck(ctx, tx, jobID, domain.JobStatusCompleted)
		if err != nil || noop {
			return err
		}

		if err := insertContent(ctx, tx, content); err != nil {
			return err
		}

		if err := applyTransition(ctx, tx, jobID, domain.JobStatusCompleted, domain.TransitionUpdate{ResultID: content.ContentID}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		s.logger.Debug("Job completed",
			slog.String("job_id", jobID),
			slog.String("content_id", content.ContentID),
		)
	}

	return applied, nil
}

// CreateContent stores content without a job row. At most one content record exists per job:
// on conflict the existing record id is loaded into content.
func (s *Storage) CreateContent(ctx context.Context, content *domain.Content) error {
	return insertContent(ctx, s.db, content)
}

// GetContent retrieves generated content by id
func (s *Storage) GetContent(ctx context.Context, contentID string) (*domain.Content, error) {
	var row contentRow
	query := `SELECT ` + contentColumns + ` FROM contents WHERE content_id = $1`

	if err := s.db.GetContext(ctx, &row, query, contentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to get content: %w", err)
	}

	content := row.toDomain()
	return &content, nil
}

// ListJobs returns up to PageSize+1 jobs ordered newest first. The extra row tells the
// caller whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query, args := listJobsQuery(filter)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toDomain())
	}
	return jobs, nil
}

func listJobsQuery(filter JobFilter) (string, []interface{}) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND content_type = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	return query, args
}

// ListStaleJobs returns jobs in status whose last update is older than before, oldest first
func (s *Storage) ListStaleJobs(ctx context.Context, status domain.Status, before time.Time, limit int) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, status, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toDomain())
	}
	return jobs, nil
}

// Touch refreshes updated_at of a processing job so the sweeper sees it as alive
func (s *Storage) Touch(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be processing)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// Ping checks that the database is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("Failed to roll back transaction", slog.Any("error", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockAndCheck locks the job row and compares its status with the target
func lockAndCheck(ctx context.Context, tx *sqlx.Tx, jobID string, to domain.Status) (bool, error) {
	var current string
	err := tx.GetContext(ctx, &current, `SELECT status FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrJobNotFound
		}
		return false, fmt.Errorf("failed to lock job: %w", err)
	}

	return domain.CheckTransition(domain.Status(current), to)
}

func applyTransition(ctx context.Context, tx *sqlx.Tx, jobID string, to domain.Status, update domain.TransitionUpdate) error {
	query := `
		UPDATE jobs
		SET status = $1::text,
			error_message = $2,
			result_id = $3,
			started_at = CASE WHEN $1::text = 'processing' THEN NOW() ELSE started_at END,
			completed_at = CASE
				WHEN $1::text IN ('completed', 'failed') THEN NOW()
				ELSE completed_at
			END,
			updated_at = NOW()
		WHERE job_id = $4
	`

	_, err := tx.ExecContext(ctx, query, to, toNullString(update.Error), toNullString(update.ResultID), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func insertContent(ctx context.Context, ext sqlx.ExtContext, content *domain.Content) error {
	if !content.Sentiment.Valid() {
		return fmt.Errorf("invalid sentiment %q", content.Sentiment)
	}

	query := `
		INSERT INTO contents (
			content_id, job_id, user_id, content_type,
			prompt, title, body, sentiment, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9
		)
		ON CONFLICT (job_id) DO NOTHING
	`

	_, err := ext.ExecContext(ctx, query,
		content.ContentID,
		content.JobID,
		content.OwnerID,
		content.Kind,
		content.Prompt,
		content.Title,
		content.Body,
		content.Sentiment,
		content.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create content: %w", err)
	}

	var existing contentRow
	err = sqlx.GetContext(ctx, ext, &existing, `SELECT `+contentColumns+` FROM contents WHERE job_id = $1`, content.JobID)
	if err != nil {
		return fmt.Errorf("failed to load content: %w", err)
	}
	*content = existing.toDomain()

	return nil
}
