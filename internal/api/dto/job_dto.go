package dto

type CreateJobRequest struct {
	Prompt      string `json:"prompt"`
	ContentType string `json:"content_type"`
}

type CreateJobResponse struct {
	JobID   string `json:"job_id"`
	DelayMs int64  `json:"delay_ms"`
	Status  string `json:"status"`
}

type JobStatusResponse struct {
	JobID  string      `json:"job_id"`
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Result *ContentDTO `json:"result,omitempty"`
}

type ContentDTO struct {
	ContentID   string `json:"content_id"`
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Sentiment   string `json:"sentiment"`
	CreatedAt   string `json:"created_at"`
}

type ListJobsRequest struct {
	ContentType string `form:"content_type"`
	Status      string `form:"status"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string `json:"job_id"`
	Prompt      string `json:"prompt"`
	ContentType string `json:"content_type"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	ResultID    string `json:"result_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
