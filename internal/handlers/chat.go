package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MegaGrindStone/resume-web-ui/internal/chat"
	"github.com/MegaGrindStone/resume-web-ui/internal/models"
	"github.com/MegaGrindStone/resume-web-ui/internal/resume"
	"github.com/MegaGrindStone/resume-web-ui/internal/services"
	"github.com/tmaxmax/go-sse"
)

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time
	Error     bool

	StreamingState string
}

// SSE event types for real-time updates.
const (
	messagesSSEType    = "messages"
	replySSEType       = "reply"
	resumeSSEType      = "resume"
	resumeErrorSSEType = "resumeError"
	chatErrorSSEType   = "chatError"
	closeSSEType       = "closeMessage"
)

// HandleChats processes a user message through HTTP POST requests. It expects "job_id" and "message"
// form fields and an optional "background" field, which replaces the stored user background when
// present.
//
// The reply is generated asynchronously and streamed to the job's SSE topic: the partial reply as
// "messages" events, then either the final reply and resume updates, or an inline error notice.
// The response itself renders the user message and an empty assistant message awaiting the stream.
// A job answers 409 Conflict while its previous reply is still being handled.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID, ok := m.formJobID(w, r)
	if !ok {
		return
	}

	text := strings.TrimSpace(r.FormValue("message"))
	if text == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := m.turns.acquire(jobID, cancel); err != nil {
		cancel()
		m.logger.Warn("Rejected message for busy job", slog.Int64("jobID", jobID))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	conv, err := m.store.Conversation(r.Context(), jobID)
	if err != nil {
		m.turns.release(jobID)
		m.logger.Error("Failed to get conversation",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	background, err := m.background(r)
	if err != nil {
		m.logger.Warn("Failed to load user background", slog.String(errLoggerKey, err.Error()))
	}

	if err := m.renderTurnStart(w, jobID, text); err != nil {
		m.turns.release(jobID)
		m.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	// The response is written out before the turn publishes anything for it.
	go m.chat(ctx, conv, text, background)
}

func (m Main) renderTurnStart(w io.Writer, jobID int64, text string) error {
	err := m.templates.ExecuteTemplate(w, "user_message", message{
		Role:           string(models.RoleUser),
		Content:        plainText(text),
		Timestamp:      time.Now(),
		StreamingState: "ended",
	})
	if err != nil {
		return fmt.Errorf("failed to execute user_message template: %w", err)
	}
	err = m.templates.ExecuteTemplate(w, "ai_message", message{
		ID:             pendingMessageID(jobID),
		Role:           string(models.RoleAssistant),
		Timestamp:      time.Now(),
		StreamingState: "loading",
	})
	if err != nil {
		return fmt.Errorf("failed to execute ai_message template: %w", err)
	}
	return nil
}

// HandleCancel aborts the reply being generated for the "job_id" form field. The user message of
// the aborted turn is kept; the partial reply is dropped and nothing further is published for it.
func (m Main) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID, ok := m.formJobID(w, r)
	if !ok {
		return
	}

	if !m.turns.cancel(jobID) {
		http.Error(w, "No reply in progress", http.StatusNotFound)
		return
	}
	m.logger.Info("Reply cancelled", slog.Int64("jobID", jobID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleClear empties the conversation of the "job_id" form field. The resume the conversation is
// working on stays attached, so the next reply keeps updating it.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID, ok := m.formJobID(w, r)
	if !ok {
		return
	}
	if !m.turns.hold(jobID) {
		http.Error(w, ErrTurnInFlight.Error(), http.StatusConflict)
		return
	}
	defer m.turns.release(jobID)

	conv, err := m.store.Conversation(r.Context(), jobID)
	if err != nil {
		m.logger.Error("Failed to get conversation",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	conv.Messages = nil
	if err := m.store.SaveConversation(r.Context(), conv); err != nil {
		m.logger.Error("Failed to clear conversation",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSSE subscribes the client to server-sent events. The "job_id" query parameter selects the
// conversation whose replies are streamed.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func (m Main) chat(ctx context.Context, conv chat.Conversation, text, background string) {
	jobID := conv.JobID
	topic := conversationTopic(jobID)
	defer m.turns.release(jobID)

	onUpdate := func(partial string) {
		content, err := m.markdown.RenderReply(partial, resume.DraftingPlaceholder)
		if err != nil {
			m.logger.Error("Failed to render partial reply", slog.String(errLoggerKey, err.Error()))
			return
		}
		m.publish(messagesSSEType, string(content), topic)
	}

	next, turn, err := m.assistant.Send(ctx, conv, text, background, onUpdate)

	// The conversation is saved even when the turn failed, so the user message and the error notice
	// survive a reload.
	saveCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if serr := m.store.SaveConversation(saveCtx, next); serr != nil {
		m.logger.Error("Failed to save conversation",
			slog.Int64("jobID", jobID),
			slog.String(errLoggerKey, serr.Error()))
	}

	if errors.Is(err, context.Canceled) {
		return
	}
	defer m.publish(closeSSEType, "bye", topic)

	if err != nil {
		n := len(next.Messages)
		if n == 0 || !next.Messages[n-1].Error {
			m.logger.Error("Turn rejected", slog.Int64("jobID", jobID), slog.String(errLoggerKey, err.Error()))
			return
		}
		rendered, rerr := m.renderMessage("error_message", next.Messages[n-1])
		if rerr != nil {
			m.logger.Error("Failed to render error notice", slog.String(errLoggerKey, rerr.Error()))
			return
		}
		m.publish(chatErrorSSEType, rendered, topic)
		return
	}

	rendered, err := m.renderMessage("ai_message", turn.Reply)
	if err != nil {
		m.logger.Error("Failed to render reply", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publish(replySSEType, rendered, topic)

	if turn.SaveErr != nil {
		m.publish(resumeErrorSSEType, "简历保存失败："+turn.SaveErr.Error(), topic)
		return
	}
	if turn.Resume == nil {
		return
	}

	panel, err := m.resumePanel(jobID, *turn.Resume)
	if err != nil {
		m.logger.Error("Failed to render resume", slog.String(errLoggerKey, err.Error()))
		return
	}
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "resume_panel", panel); err != nil {
		m.logger.Error("Failed to execute resume_panel template", slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publish(resumeSSEType, sb.String(), topic)
}

func (m Main) publish(typ, data, topic string) {
	msg := sse.Message{Type: sse.Type(typ)}
	msg.AppendData(data)
	if err := m.sseSrv.Publish(&msg, topic); err != nil {
		m.logger.Error("Failed to publish event",
			slog.String("type", typ),
			slog.String("topic", topic),
			slog.String(errLoggerKey, err.Error()))
	}
}

// background returns the user background for a chat request. A "background" form field replaces the
// stored one; otherwise the stored one is used.
func (m Main) background(r *http.Request) (string, error) {
	if !r.Form.Has("background") {
		return m.store.Preference(r.Context(), services.PreferenceBackground)
	}

	background := strings.TrimSpace(r.FormValue("background"))
	if err := m.store.SetPreference(r.Context(), services.PreferenceBackground, background); err != nil {
		return background, fmt.Errorf("failed to save background: %w", err)
	}
	return background, nil
}

func (m Main) messageView(msg models.Message, placeholder string) (message, error) {
	view := message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Timestamp:      msg.Timestamp,
		Error:          msg.Error,
		StreamingState: "ended",
	}

	if msg.Role != models.RoleAssistant || msg.Error {
		view.Content = plainText(msg.Content)
		return view, nil
	}

	content, err := m.markdown.RenderReply(msg.Content, placeholder)
	if err != nil {
		return message{}, err
	}
	view.Content = content
	return view, nil
}

func (m Main) renderMessage(name string, msg models.Message) (string, error) {
	view, err := m.messageView(msg, resume.SavedPlaceholder)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, view); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return sb.String(), nil
}

// formJobID parses the "job_id" form field, answering 400 when it is missing or invalid.
func (m Main) formJobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	jobID, err := strconv.ParseInt(r.FormValue("job_id"), 10, 64)
	if err != nil || jobID <= 0 {
		m.logger.Error("Job is required", slog.String("jobID", r.FormValue("job_id")))
		http.Error(w, "Job is required", http.StatusBadRequest)
		return 0, false
	}
	return jobID, true
}

func pendingMessageID(jobID int64) string {
	return fmt.Sprintf("pending-%d", jobID)
}

// plainText escapes s for display; line breaks are kept by the stylesheet.
func plainText(s string) template.HTML {
	return template.HTML(template.HTMLEscapeString(s))
}
