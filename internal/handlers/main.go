package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	resumewebui "github.com/MegaGrindStone/resume-web-ui"
	"github.com/MegaGrindStone/resume-web-ui/internal/chat"
	"github.com/MegaGrindStone/resume-web-ui/internal/models"
	"github.com/MegaGrindStone/resume-web-ui/internal/services"
	"github.com/tmaxmax/go-sse"
)

// Backend is the resume backend as seen by the web UI: the chat stream and resume persistence used by
// the assistant, plus the job, resume, upload and settings endpoints behind the pages.
type Backend interface {
	chat.Backend

	Jobs(ctx context.Context) ([]models.Job, error)
	Job(ctx context.Context, id int64) (models.Job, error)
	CreateJob(ctx context.Context, req models.JobCreate) (models.Job, error)
	UpdateJob(ctx context.Context, id int64, req models.JobUpdate) (models.Job, error)
	DeleteJob(ctx context.Context, id int64) error

	Resumes(ctx context.Context, jobID int64) ([]models.Resume, error)
	DeleteResume(ctx context.Context, id int64) error

	CurrentProvider(ctx context.Context) (models.CurrentProvider, error)
	ExtractText(ctx context.Context, filename string, file io.Reader) (models.ExtractedFile, error)
	ParseJob(ctx context.Context, filename string, file io.Reader) (models.JobCreate, error)
	ExportURL(format services.ExportFormat, id int64) (string, error)

	Settings(ctx context.Context) (models.Settings, error)
	UpdateSettings(ctx context.Context, req models.SettingsUpdate) error
	ClearAPIKey(ctx context.Context, provider string) error
	TestConnection(ctx context.Context, req models.ConnectionTest) (models.ConnectionResult, error)
}

// Store defines the interface for the state the UI keeps locally: one conversation and one interview
// guide per job, and a set of preferences such as the user's background text.
type Store interface {
	Conversation(ctx context.Context, jobID int64) (chat.Conversation, error)
	SaveConversation(ctx context.Context, conv chat.Conversation) error
	ClearConversation(ctx context.Context, jobID int64) error

	Guide(ctx context.Context, jobID int64) (models.Guide, error)
	SaveGuide(ctx context.Context, guide models.Guide) error
	ClearGuide(ctx context.Context, jobID int64) error

	Preference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
}

// Main handles the core functionality of the web UI, managing server-sent events, HTML templates, and
// the interactions between the assistant, the backend and the local store.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	backend   Backend
	store     Store
	markdown  services.Markdown
	assistant chat.Assistant
	turns     *turns

	logger *slog.Logger
}

// ErrTurnInFlight is returned when a job already has a reply being generated.
var ErrTurnInFlight = errors.New("a reply is still being generated")

const (
	errLoggerKey = "err"

	storeTimeout = 5 * time.Second
)

// turns tracks the replies being generated, at most one per job. A job stays busy until its turn
// has been fully handled, including saving the resume and the conversation. Handlers that rewrite a
// job's conversation or resumes hold the job the same way, so they never interleave with a turn.
type turns struct {
	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

func newTurns() *turns {
	return &turns{cancels: make(map[int64]context.CancelFunc)}
}

func (t *turns) acquire(jobID int64, cancel context.CancelFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.cancels[jobID]; ok {
		return ErrTurnInFlight
	}
	t.cancels[jobID] = cancel
	t.wg.Add(1)
	return nil
}

func (t *turns) release(jobID int64) {
	t.mu.Lock()
	cancel, ok := t.cancels[jobID]
	delete(t.cancels, jobID)
	t.mu.Unlock()

	if ok {
		cancel()
		t.wg.Done()
	}
}

// hold marks jobID busy for a change made outside a turn. It reports false when the job is already
// busy; otherwise the caller releases the job when done.
func (t *turns) hold(jobID int64) bool {
	return t.acquire(jobID, func() {}) == nil
}

// cancel aborts the turn of jobID, reporting whether there was one. The job stays busy until the
// aborted turn has released it.
func (t *turns) cancel(jobID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cancel, ok := t.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

func (t *turns) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, cancel := range t.cancels {
		cancel()
	}
}

func (t *turns) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewMain creates a new Main instance with the provided backend, store and markdown renderer. It
// initializes the SSE server and parses the required HTML templates from the embedded filesystem.
// Each SSE client subscribes to the default topic and, when it asks for a job, to the topic of that
// job's conversation.
func NewMain(backend Backend, store Store, markdown services.Markdown, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		resumewebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				jobID, err := strconv.ParseInt(s.Req.URL.Query().Get("job_id"), 10, 64)
				if err == nil && jobID > 0 {
					topics = append(topics, conversationTopic(jobID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		backend:   backend,
		store:     store,
		markdown:  markdown,
		assistant: chat.NewAssistant(backend, logger),
		turns:     newTurns(),
		logger:    logger.With(slog.String("module", "main")),
	}, nil
}

func conversationTopic(jobID int64) string {
	return fmt.Sprintf("conversation-%d", jobID)
}

// Shutdown aborts every reply still being generated and waits for them to be saved, then terminates
// the SSE server. It broadcasts a close message to all connected clients and waits up to 5 seconds
// for connections to terminate. After the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	m.turns.cancelAll()
	if err := m.turns.wait(ctx); err != nil {
		m.logger.Warn("Replies still running at shutdown", slog.String(errLoggerKey, err.Error()))
	}

	e := &sse.Message{Type: sse.Type("closeChat")}
	// An SSE event needs a data field, so the close event carries a placeholder payload.
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	return m.sseSrv.Shutdown(ctx)
}
