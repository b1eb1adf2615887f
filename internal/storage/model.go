package storage

import (
	"database/sql"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
)

type jobRow struct {
	JobID        string         `db:"job_id"`
	UserID       string         `db:"user_id"`
	Prompt       string         `db:"prompt"`
	ContentType  string         `db:"content_type"`
	Status       string         `db:"status"`
	ErrorMessage sql.NullString `db:"error_message"`
	ResultID     sql.NullString `db:"result_id"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
}

const jobColumns = `job_id, user_id, prompt, content_type, status, error_message,
	result_id, created_at, updated_at, started_at, completed_at`

func (r jobRow) toDomain() domain.Job {
	job := domain.Job{
		JobID:     r.JobID,
		OwnerID:   r.UserID,
		Prompt:    r.Prompt,
		Kind:      domain.Kind(r.ContentType),
		Status:    domain.Status(r.Status),
		Error:     r.ErrorMessage.String,
		ResultID:  r.ResultID.String,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	return job
}

type contentRow struct {
	ContentID   string    `db:"content_id"`
	JobID       string    `db:"job_id"`
	UserID      string    `db:"user_id"`
	ContentType string    `db:"content_type"`
	Prompt      string    `db:"prompt"`
	Title       string    `db:"title"`
	Body        string    `db:"body"`
	Sentiment   string    `db:"sentiment"`
	CreatedAt   time.Time `db:"created_at"`
}

const contentColumns = `content_id, job_id, user_id, content_type, prompt, title, body, sentiment, created_at`

func (r contentRow) toDomain() domain.Content {
	return domain.Content{
		ContentID: r.ContentID,
		OwnerID:   r.UserID,
		JobID:     r.JobID,
		Kind:      domain.Kind(r.ContentType),
		Prompt:    r.Prompt,
		Title:     r.Title,
		Body:      r.Body,
		Sentiment: domain.Sentiment(r.Sentiment),
		CreatedAt: r.CreatedAt,
	}
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
