// Package chat runs conversation turns against the backend's chat stream and persists the resume
// documents the assistant embeds in its replies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MegaGrindStone/resume-web-ui/internal/models"
	"github.com/MegaGrindStone/resume-web-ui/internal/resume"
	"github.com/MegaGrindStone/resume-web-ui/internal/stream"
	"github.com/google/uuid"
)

// Backend is the part of the external backend a turn talks to.
type Backend interface {
	StreamChat(ctx context.Context, req models.ChatRequest) (io.ReadCloser, error)
	CreateResume(ctx context.Context, req models.ResumeCreate) (models.Resume, error)
	UpdateResume(ctx context.Context, id int64, req models.ResumeUpdate) (models.Resume, error)
}

// Conversation is the state of one conversation about a job. It is threaded through Send: each call
// takes the current state and returns the next one.
type Conversation struct {
	ID    string `json:"id"`
	JobID int64  `json:"job_id"`

	// ResumeID is the resume created or updated by this conversation, zero until the first resume is
	// saved. Later turns update it instead of creating another one.
	ResumeID int64 `json:"resume_id"`

	Messages []models.Message `json:"messages"`
}

// Turn describes the outcome of a successful turn.
type Turn struct {
	Reply models.Message

	// Document is the resume extracted from the reply, valid when Found is true.
	Document string
	Found    bool

	// Resume is the saved resume, nil when nothing was saved.
	Resume  *models.Resume
	Created bool

	// SaveErr reports a failure to save the extracted resume. The reply is kept regardless.
	SaveErr error
}

// Assistant sends conversation turns.
type Assistant struct {
	backend Backend
	logger  *slog.Logger

	now func() time.Time
}

// DefaultResumeTitle is the title given to resumes created from a conversation.
const DefaultResumeTitle = "定制简历"

const errLoggerKey = "err"

var (
	// ErrEmptyMessage is returned when the user message is empty or whitespace only.
	ErrEmptyMessage = errors.New("message is required")
	// ErrNoJob is returned when the conversation is not attached to a job.
	ErrNoJob = errors.New("conversation has no job")
)

// NewConversation starts an empty conversation about jobID.
func NewConversation(jobID int64) Conversation {
	return Conversation{
		ID:    uuid.New().String(),
		JobID: jobID,
	}
}

// NewAssistant creates an Assistant talking to backend.
func NewAssistant(backend Backend, logger *slog.Logger) Assistant {
	return Assistant{
		backend: backend,
		logger:  logger.With(slog.String("module", "chat")),
		now:     time.Now,
	}
}

// ErrorNotice returns the inline assistant-style message shown in place of a failed reply.
func ErrorNotice(err error, ts time.Time) models.Message {
	return models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   "抱歉，发生了错误：" + err.Error(),
		Timestamp: ts,
		Error:     true,
	}
}

// Send runs a single turn: it appends text as a user message, streams the reply and, once the reply
// is complete, saves the embedded resume if there is one. onUpdate, if not nil, receives the reply
// accumulated so far after every streamed fragment.
//
// On a stream failure the returned conversation carries the user message followed by an error
// notice (no notice when ctx was cancelled), the partially streamed reply is dropped and the error
// is returned. Nothing is extracted or saved in that case. A failure to save the resume is not a
// stream failure: it is reported through Turn.SaveErr and the reply is kept.
func (a Assistant) Send(
	ctx context.Context,
	conv Conversation,
	text, background string,
	onUpdate func(string),
) (Conversation, Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conv, Turn{}, ErrEmptyMessage
	}
	if conv.JobID == 0 {
		return conv, Turn{}, ErrNoJob
	}

	// Copy so the caller's slice is never appended to in place.
	msgs := make([]models.Message, len(conv.Messages), len(conv.Messages)+2)
	copy(msgs, conv.Messages)
	conv.Messages = append(msgs, models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: a.now(),
	})

	transcript, err := a.stream(ctx, conv, background, onUpdate)
	if err != nil {
		// An aborted turn is the user's own doing and gets no notice.
		if errors.Is(err, context.Canceled) {
			a.logger.Info("Chat stream cancelled", slog.String("conversationID", conv.ID))
			return conv, Turn{}, err
		}
		a.logger.Warn("Chat stream failed",
			slog.String("conversationID", conv.ID),
			slog.String(errLoggerKey, err.Error()))
		conv.Messages = append(conv.Messages, ErrorNotice(err, a.now()))
		return conv, Turn{}, err
	}

	reply := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   transcript,
		Timestamp: a.now(),
	}
	conv.Messages = append(conv.Messages, reply)

	turn := Turn{Reply: reply}
	turn.Document, turn.Found = resume.Extract(transcript)
	if !turn.Found || turn.Document == "" {
		return conv, turn, nil
	}

	saved, created, err := a.saveResume(ctx, conv, turn.Document)
	if err != nil {
		a.logger.Error("Failed to save resume",
			slog.String("conversationID", conv.ID),
			slog.Int64("resumeID", conv.ResumeID),
			slog.String(errLoggerKey, err.Error()))
		turn.SaveErr = err
		return conv, turn, nil
	}

	conv.ResumeID = saved.ID
	turn.Resume = &saved
	turn.Created = created

	return conv, turn, nil
}

func (a Assistant) stream(ctx context.Context, conv Conversation, background string, onUpdate func(string)) (string, error) {
	body, err := a.backend.StreamChat(ctx, models.ChatRequest{
		JobID:          conv.JobID,
		ResumeID:       conv.ResumeID,
		Messages:       models.History(conv.Messages),
		UserBackground: strings.TrimSpace(background),
	})
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer body.Close()

	return stream.Consume(ctx, body, onUpdate, a.logger)
}

func (a Assistant) saveResume(ctx context.Context, conv Conversation, content string) (models.Resume, bool, error) {
	if conv.ResumeID != 0 {
		updated, err := a.backend.UpdateResume(ctx, conv.ResumeID, models.ResumeUpdate{
			Content: &content,
		})
		if err != nil {
			return models.Resume{}, false, fmt.Errorf("failed to update resume %d: %w", conv.ResumeID, err)
		}
		return updated, false, nil
	}

	created, err := a.backend.CreateResume(ctx, models.ResumeCreate{
		JobID:   conv.JobID,
		Title:   DefaultResumeTitle,
		Content: content,
	})
	if err != nil {
		return models.Resume{}, false, fmt.Errorf("failed to create resume: %w", err)
	}
	return created, true, nil
}
