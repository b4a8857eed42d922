package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MegaGrindStone/resume-web-ui/internal/models"
	"github.com/sony/gobreaker/v2"
)

// Backend is a client of the job application backend. It covers job and resume CRUD, the chat
// stream, file text extraction and export links. Every call goes through a circuit breaker so an
// unavailable backend fails fast instead of piling up requests.
type Backend struct {
	baseURL string
	timeout time.Duration

	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]

	logger *slog.Logger
}

// BreakerParameters configures the circuit breaker in front of the backend. Zero values fall back to
// defaults.
type BreakerParameters struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32 `yaml:"maxFailures"`
	// Timeout is how long the circuit stays open before letting a probe through.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the period after which failure counts are cleared while the circuit is closed.
	Interval time.Duration `yaml:"interval"`
}

// StatusError is returned when the backend answers with a non-success status.
type StatusError struct {
	StatusCode int
	Body       string
}

// ExportFormat is a document format the backend can export a resume to.
type ExportFormat string

// Export formats.
const (
	ExportPDF        ExportFormat = "pdf"
	ExportMarkdown   ExportFormat = "markdown"
	ExportWord       ExportFormat = "word"
	ExportPDFPreview ExportFormat = "pdf-preview"
)

const (
	defaultBackendTimeout     = 30 * time.Second
	defaultBreakerMaxFailures = 5
	defaultBreakerTimeout     = 30 * time.Second
	defaultBreakerInterval    = 60 * time.Second

	maxErrorBodyLen = 512
)

// ErrNoResponseBody is returned when the chat stream response carries no body.
var ErrNoResponseBody = errors.New("no response body")

// NewBackend creates a Backend client for the backend served at baseURL. timeout bounds every
// non-streaming call; the chat stream is bounded only by its context.
func NewBackend(baseURL string, timeout time.Duration, params BreakerParameters, logger *slog.Logger) Backend {
	if timeout == 0 {
		timeout = defaultBackendTimeout
	}
	maxFailures := params.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	breakerTimeout := params.Timeout
	if breakerTimeout == 0 {
		breakerTimeout = defaultBreakerTimeout
	}
	interval := params.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	logger = logger.With(slog.String("module", "backend"))

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// Client errors are answers from a healthy backend, cancellations are ours.
			if errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
	})

	return Backend{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/api",
		timeout: timeout,
		client:  &http.Client{},
		breaker: breaker,
		logger:  logger,
	}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, e.Body)
}

// Jobs lists every job.
func (b Backend) Jobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := b.doJSON(ctx, http.MethodGet, "/jobs", nil, &jobs); err != nil {
		return nil, fmt.Errorf("failed to fetch jobs: %w", err)
	}
	return jobs, nil
}

// Job fetches a single job.
func (b Backend) Job(ctx context.Context, id int64) (models.Job, error) {
	var job models.Job
	if err := b.doJSON(ctx, http.MethodGet, "/jobs/"+idPath(id), nil, &job); err != nil {
		return models.Job{}, fmt.Errorf("failed to fetch job %d: %w", id, err)
	}
	return job, nil
}

// CreateJob creates a job.
func (b Backend) CreateJob(ctx context.Context, req models.JobCreate) (models.Job, error) {
	var job models.Job
	if err := b.doJSON(ctx, http.MethodPost, "/jobs", req, &job); err != nil {
		return models.Job{}, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// UpdateJob updates the non-nil fields of req on job id.
func (b Backend) UpdateJob(ctx context.Context, id int64, req models.JobUpdate) (models.Job, error) {
	var job models.Job
	if err := b.doJSON(ctx, http.MethodPut, "/jobs/"+idPath(id), req, &job); err != nil {
		return models.Job{}, fmt.Errorf("failed to update job %d: %w", id, err)
	}
	return job, nil
}

// DeleteJob deletes job id together with its resumes.
func (b Backend) DeleteJob(ctx context.Context, id int64) error {
	if err := b.doJSON(ctx, http.MethodDelete, "/jobs/"+idPath(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete job %d: %w", id, err)
	}
	return nil
}

// Resumes lists the resumes of jobID, or every resume when jobID is zero.
func (b Backend) Resumes(ctx context.Context, jobID int64) ([]models.Resume, error) {
	path := "/resumes"
	if jobID != 0 {
		path += "?" + url.Values{"job_id": {idPath(jobID)}}.Encode()
	}

	var resumes []models.Resume
	if err := b.doJSON(ctx, http.MethodGet, path, nil, &resumes); err != nil {
		return nil, fmt.Errorf("failed to fetch resumes: %w", err)
	}
	return resumes, nil
}

// CreateResume creates a resume.
func (b Backend) CreateResume(ctx context.Context, req models.ResumeCreate) (models.Resume, error) {
	var res models.Resume
	if err := b.doJSON(ctx, http.MethodPost, "/resumes", req, &res); err != nil {
		return models.Resume{}, fmt.Errorf("failed to create resume: %w", err)
	}
	return res, nil
}

// UpdateResume updates the non-nil fields of req on resume id.
func (b Backend) UpdateResume(ctx context.Context, id int64, req models.ResumeUpdate) (models.Resume, error) {
	var res models.Resume
	if err := b.doJSON(ctx, http.MethodPut, "/resumes/"+idPath(id), req, &res); err != nil {
		return models.Resume{}, fmt.Errorf("failed to update resume %d: %w", id, err)
	}
	return res, nil
}

// DeleteResume deletes resume id.
func (b Backend) DeleteResume(ctx context.Context, id int64) error {
	if err := b.doJSON(ctx, http.MethodDelete, "/resumes/"+idPath(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete resume %d: %w", id, err)
	}
	return nil
}

// CurrentProvider fetches the LLM provider the backend is configured with.
func (b Backend) CurrentProvider(ctx context.Context) (models.CurrentProvider, error) {
	var p models.CurrentProvider
	if err := b.doJSON(ctx, http.MethodGet, "/chat/current-provider", nil, &p); err != nil {
		return models.CurrentProvider{}, fmt.Errorf("failed to fetch provider info: %w", err)
	}
	return p, nil
}

// Settings fetches the backend's LLM configuration.
func (b Backend) Settings(ctx context.Context) (models.Settings, error) {
	var s models.Settings
	if err := b.doJSON(ctx, http.MethodGet, "/settings", nil, &s); err != nil {
		return models.Settings{}, fmt.Errorf("failed to fetch settings: %w", err)
	}
	return s, nil
}

// UpdateSettings changes the provider, the model and the API keys set in req.
func (b Backend) UpdateSettings(ctx context.Context, req models.SettingsUpdate) error {
	if err := b.doJSON(ctx, http.MethodPut, "/settings", req, nil); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// ClearAPIKey removes the API key stored for provider.
func (b Backend) ClearAPIKey(ctx context.Context, provider string) error {
	if err := b.doJSON(ctx, http.MethodDelete, "/settings/api-key/"+url.PathEscape(provider), nil, nil); err != nil {
		return fmt.Errorf("failed to clear api key of %s: %w", provider, err)
	}
	return nil
}

// TestConnection asks the backend to reach the provider and model of req. A failed connection is
// reported in the result, not as an error.
func (b Backend) TestConnection(ctx context.Context, req models.ConnectionTest) (models.ConnectionResult, error) {
	var res models.ConnectionResult
	if err := b.doJSON(ctx, http.MethodPost, "/settings/test", req, &res); err != nil {
		return models.ConnectionResult{}, fmt.Errorf("failed to test connection: %w", err)
	}
	return res, nil
}

// StreamChat opens the chat stream for req and returns its body. A non-success status or a missing
// body is an error; the caller closes the returned body.
func (b Backend) StreamChat(ctx context.Context, req models.ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	resp, err := b.do(ctx, http.MethodPost, "/chat/stream", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoResponseBody
	}

	return resp.Body, nil
}

// ExtractText uploads a file and returns the text the backend extracted from it.
func (b Backend) ExtractText(ctx context.Context, filename string, file io.Reader) (models.ExtractedFile, error) {
	var res models.ExtractedFile
	if err := b.upload(ctx, "/uploads/extract", filename, file, &res); err != nil {
		return models.ExtractedFile{}, fmt.Errorf("failed to extract text: %w", err)
	}
	return res, nil
}

// ParseJob uploads a job description file and returns the job fields the backend parsed from it.
func (b Backend) ParseJob(ctx context.Context, filename string, file io.Reader) (models.JobCreate, error) {
	var res models.JobCreate
	if err := b.upload(ctx, "/uploads/parse-job", filename, file, &res); err != nil {
		return models.JobCreate{}, fmt.Errorf("failed to parse job: %w", err)
	}
	return res, nil
}

// ExportURL returns the backend URL exporting resume id in format.
func (b Backend) ExportURL(format ExportFormat, id int64) (string, error) {
	switch format {
	case ExportPDF, ExportMarkdown, ExportWord, ExportPDFPreview:
	default:
		return "", fmt.Errorf("unknown export format: %s", format)
	}
	return fmt.Sprintf("%s/export/%s/%d", b.baseURL, format, id), nil
}

func (b Backend) upload(ctx context.Context, path, filename string, file io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("error creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("error closing multipart writer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.do(ctx, http.MethodPost, path, &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func (b Backend) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		b.logger.Debug("Request Body", slog.String("path", path), slog.String("body", string(jsonBody)))
		body = bytes.NewReader(jsonBody)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// do sends a request through the circuit breaker. A non-2xx answer is turned into a *StatusError
// and its body is closed.
func (b Backend) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	resp, err := b.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("error sending request: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer resp.Body.Close()
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(errBody)}
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("backend circuit open: %w", err)
		}
		return nil, err
	}
	return resp, nil
}

func idPath(id int64) string {
	return strconv.FormatInt(id, 10)
}
