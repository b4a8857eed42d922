package models

import (
	"bytes"
	"fmt"
	"time"
)

// Job is a job posting tracked by the user.
type Job struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Company   string    `json:"company,omitempty"`
	JobURL    string    `json:"job_url,omitempty"`
	Salary    string    `json:"salary,omitempty"`
	Content   string    `json:"content"`
	Status    JobStatus `json:"status,omitempty"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// JobStatus is the application progress of a job.
type JobStatus string

// Application progress, in pipeline order.
const (
	JobStatusPending       JobStatus = "pending"
	JobStatusScreening     JobStatus = "screening"
	JobStatusScreeningFail JobStatus = "screening_fail"
	JobStatusInterviewing  JobStatus = "interviewing"
	JobStatusInterviewFail JobStatus = "interview_fail"
	JobStatusOffered       JobStatus = "offered"
)

var jobStatusLabels = map[JobStatus]string{
	JobStatusPending:       "待投递",
	JobStatusScreening:     "筛选中",
	JobStatusScreeningFail: "筛选挂",
	JobStatusInterviewing:  "面试中",
	JobStatusInterviewFail: "面试挂",
	JobStatusOffered:       "已oc",
}

// JobStatuses lists every known status in pipeline order.
func JobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusScreening,
		JobStatusScreeningFail,
		JobStatusInterviewing,
		JobStatusInterviewFail,
		JobStatusOffered,
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := jobStatusLabels[s]
	return ok
}

// Label returns the display label of s. Unknown and empty statuses display as pending.
func (s JobStatus) Label() string {
	if label, ok := jobStatusLabels[s]; ok {
		return label
	}
	return jobStatusLabels[JobStatusPending]
}

// JobCreate is the body for creating a job.
type JobCreate struct {
	Title   string    `json:"title"`
	Company string    `json:"company,omitempty"`
	JobURL  string    `json:"job_url,omitempty"`
	Salary  string    `json:"salary,omitempty"`
	Content string    `json:"content"`
	Status  JobStatus `json:"status,omitempty"`
}

// JobUpdate is the body for updating a job. Nil fields are left unchanged.
type JobUpdate struct {
	Title   *string    `json:"title,omitempty"`
	Company *string    `json:"company,omitempty"`
	JobURL  *string    `json:"job_url,omitempty"`
	Salary  *string    `json:"salary,omitempty"`
	Content *string    `json:"content,omitempty"`
	Status  *JobStatus `json:"status,omitempty"`
}

// Resume is a resume document attached to a job.
type Resume struct {
	ID        int64     `json:"id"`
	JobID     int64     `json:"job_id"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// ResumeCreate is the body for creating a resume.
type ResumeCreate struct {
	JobID   int64  `json:"job_id"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// ResumeUpdate is the body for updating a resume. Nil fields are left unchanged.
type ResumeUpdate struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// CurrentProvider describes the LLM provider configured on the backend.
type CurrentProvider struct {
	Provider     string `json:"provider"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
	ModelName    string `json:"model_name"`
}

// ExtractedFile is the text the backend extracted from an uploaded file.
type ExtractedFile struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
	Parser   string `json:"parser"`
}

// Timestamp decodes the backend's datetimes, which may come with or without a zone offset. Null
// decodes to the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid timestamp %s", data)
	}
	raw := string(data[1 : len(data)-1])
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", raw)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return t.Time.MarshalJSON()
}
