package stream

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// DataPrefix is the prefix every routable record carries.
const DataPrefix = "data: "

// EventType discriminates the events sent by the chat stream.
type EventType string

const (
	// EventText carries a fragment of the assistant reply in Content.
	EventText EventType = "text"
	// EventDone marks the end of the reply. It has no payload.
	EventDone EventType = "done"
)

// Event is a single decoded stream event.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
}

// Handler receives routed events. Nil callbacks are skipped.
type Handler struct {
	OnText func(content string)
	OnDone func()
}

// Router classifies decoded records and dispatches them to a Handler.
//
// Malformed records are never fatal: the server may interleave keep-alive or unknown lines, so they
// are logged at debug level and dropped.
type Router struct {
	handler Handler
	logger  *slog.Logger

	done bool
}

// NewRouter creates a Router dispatching to h.
func NewRouter(h Handler, logger *slog.Logger) *Router {
	return &Router{
		handler: h,
		logger:  logger,
	}
}

// Route interprets a single record and reports whether the done event has been seen. Once done,
// every subsequent record is ignored.
func (r *Router) Route(record string) bool {
	if r.done {
		return true
	}

	payload, ok := strings.CutPrefix(record, DataPrefix)
	if !ok {
		if strings.TrimSpace(record) != "" {
			r.logger.Debug("Ignoring record without data prefix", slog.String("record", record))
		}
		return false
	}

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.Debug("Ignoring malformed record",
			slog.String("record", record),
			slog.String(errLoggerKey, err.Error()))
		return false
	}

	switch ev.Type {
	case EventText:
		if r.handler.OnText != nil {
			r.handler.OnText(ev.Content)
		}
	case EventDone:
		r.done = true
		if r.handler.OnDone != nil {
			r.handler.OnDone()
		}
	default:
		r.logger.Debug("Ignoring unknown event type", slog.String("type", string(ev.Type)))
	}

	return r.done
}

// Done reports whether the done event has been routed.
func (r *Router) Done() bool {
	return r.done
}
