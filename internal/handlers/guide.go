package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/resume-web-ui/internal/models"
	"github.com/MegaGrindStone/resume-web-ui/internal/resume"
	"github.com/MegaGrindStone/resume-web-ui/internal/services"
)

type guidePanel struct {
	JobID     int64
	Title     string
	Content   template.HTML
	Source    string
	UpdatedAt time.Time
}

// Guide actions.
const (
	guideSave   = "save"
	guideAppend = "append"
	guideClear  = "clear"
)

// HandleGuide changes the interview guide of the "job_id" form field according to the "action"
// field:
//
//   - "save" replaces the guide with the "title" and "content" fields.
//   - "append" adds an excerpt at the end of the guide: the "text" field, or the reply named by the
//     "message_id" field with its resume blocks left out.
//   - "clear" removes the guide and its title.
//
// With a "partial" field the updated guide panel is rendered; otherwise the client is redirected to
// the job.
func (m Main) HandleGuide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID, ok := m.formJobID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()

	if _, err := m.backend.Job(ctx, jobID); err != nil {
		var se *services.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		m.logger.Error("Failed to get job", slog.Int64("jobID", jobID), slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	guide, err := m.store.Guide(ctx, jobID)
	if err != nil {
		m.logger.Error("Failed to get interview guide",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch action := r.FormValue("action"); action {
	case guideSave:
		guide.Title = strings.TrimSpace(r.FormValue("title"))
		guide.Content = strings.TrimSpace(r.FormValue("content"))
		guide.UpdatedAt = time.Now()
		err = m.store.SaveGuide(ctx, guide)

	case guideAppend:
		text, status, terr := m.excerpt(ctx, r, jobID)
		if terr != nil {
			http.Error(w, terr.Error(), status)
			return
		}
		next, changed := guide.Append(text, time.Now())
		if !changed {
			http.Error(w, "Excerpt is empty", http.StatusBadRequest)
			return
		}
		err = m.store.SaveGuide(ctx, next)

	case guideClear:
		err = m.store.ClearGuide(ctx, jobID)

	default:
		http.Error(w, fmt.Sprintf("Unknown action %q", action), http.StatusBadRequest)
		return
	}
	if err != nil {
		m.logger.Error("Failed to save interview guide",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !r.Form.Has("partial") {
		http.Redirect(w, r, jobURL(jobID), http.StatusSeeOther)
		return
	}

	panel, err := m.guidePanel(ctx, jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "guide_panel", panel); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// excerpt returns the text to append to a guide, with the HTTP status to answer when there is none.
func (m Main) excerpt(ctx context.Context, r *http.Request, jobID int64) (string, int, error) {
	msgID := r.FormValue("message_id")
	if msgID == "" {
		return r.FormValue("text"), http.StatusOK, nil
	}

	conv, err := m.store.Conversation(ctx, jobID)
	if err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("failed to get conversation: %w", err)
	}
	for _, msg := range conv.Messages {
		if msg.ID != msgID {
			continue
		}
		if msg.Role != models.RoleAssistant || msg.Error {
			return "", http.StatusBadRequest, errors.New("only replies can be added to the guide")
		}
		return resume.Redact(msg.Content, ""), http.StatusOK, nil
	}
	return "", http.StatusNotFound, errors.New("message not found")
}

func (m Main) guidePanel(ctx context.Context, jobID int64) (guidePanel, error) {
	guide, err := m.store.Guide(ctx, jobID)
	if err != nil {
		return guidePanel{}, fmt.Errorf("failed to get interview guide: %w", err)
	}
	content, err := m.markdown.Render(guide.Content)
	if err != nil {
		return guidePanel{}, fmt.Errorf("failed to render interview guide: %w", err)
	}
	return guidePanel{
		JobID:     jobID,
		Title:     guide.DisplayTitle(),
		Content:   content,
		Source:    guide.Content,
		UpdatedAt: guide.UpdatedAt,
	}, nil
}
