package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const errLoggerKey = "err"

// ErrIncompleteStream is returned when the stream ends before the done event.
var ErrIncompleteStream = errors.New("stream ended before completion")

// Transcript accumulates the text fragments of one assistant reply in arrival order.
type Transcript struct {
	sb strings.Builder
}

// Append adds s to the transcript and returns the full transcript so far.
func (t *Transcript) Append(s string) string {
	t.sb.WriteString(s)
	return t.sb.String()
}

func (t *Transcript) String() string {
	return t.sb.String()
}

// Reset empties the transcript.
func (t *Transcript) Reset() {
	t.sb.Reset()
}

// Consume reads a chat stream from r and returns the complete transcript once the done event
// arrives. After every text event onUpdate, if not nil, receives the transcript so far.
//
// Any failure discards the partial transcript: the read error, ErrIncompleteStream when the stream
// closes without a done event, or the context error when ctx is cancelled. No onUpdate call happens
// after ctx is cancelled.
func Consume(ctx context.Context, r io.Reader, onUpdate func(string), logger *slog.Logger) (string, error) {
	var transcript Transcript

	router := NewRouter(Handler{
		OnText: func(content string) {
			current := transcript.Append(content)
			if onUpdate != nil && ctx.Err() == nil {
				onUpdate(current)
			}
		},
	}, logger)

	for record, err := range Records(r) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("stream cancelled: %w", ctxErr)
		}
		if err != nil {
			return "", err
		}
		if router.Route(record) {
			return transcript.String(), nil
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("stream cancelled: %w", ctxErr)
	}
	return "", ErrIncompleteStream
}
