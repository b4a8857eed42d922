package chat_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/resume-web-ui/internal/chat"
	"github.com/MegaGrindStone/resume-web-ui/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	streams   [][]string
	streamErr error
	saveErr   error

	requests []models.ChatRequest
	creates  []models.ResumeCreate
	updates  map[int64][]string
	nextID   int64
}

func newMockBackend(streams ...[]string) *mockBackend {
	return &mockBackend{
		streams: streams,
		updates: map[int64][]string{},
		nextID:  41,
	}
}

func textEvents(parts ...string) []string {
	records := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		records = append(records, fmt.Sprintf("data: {\"type\":\"text\",\"content\":%q}\n\n", p))
	}
	return append(records, "data: {\"type\":\"done\"}\n\n")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendCreatesResumeOnFirstTurn(t *testing.T) {
	backend := newMockBackend(textEvents(
		"===RESUME_START===\n",
		"# 张三\n\n## 经历",
		"\n===RESUME_END===\n谢谢",
	))
	a := chat.NewAssistant(backend, testLogger())
	conv := chat.NewConversation(7)

	var updates []string
	next, turn, err := a.Send(context.Background(), conv, "帮我写一份简历", "", func(s string) {
		updates = append(updates, s)
	})
	require.NoError(t, err)

	full := "===RESUME_START===\n# 张三\n\n## 经历\n===RESUME_END===\n谢谢"
	assert.Equal(t, full, turn.Reply.Content)
	assert.Equal(t, models.RoleAssistant, turn.Reply.Role)
	assert.Len(t, updates, 3)
	assert.Equal(t, full, updates[2])

	assert.True(t, turn.Found)
	assert.Equal(t, "# 张三\n\n## 经历", turn.Document)
	assert.True(t, turn.Created)
	require.NotNil(t, turn.Resume)
	assert.NoError(t, turn.SaveErr)

	require.Len(t, backend.creates, 1)
	assert.Equal(t, models.ResumeCreate{JobID: 7, Title: chat.DefaultResumeTitle, Content: "# 张三\n\n## 经历"}, backend.creates[0])
	assert.Empty(t, backend.updates)

	assert.Equal(t, int64(41), next.ResumeID)
	require.Len(t, next.Messages, 2)
	assert.Equal(t, models.RoleUser, next.Messages[0].Role)
	assert.Equal(t, "帮我写一份简历", next.Messages[0].Content)
	assert.Equal(t, full, next.Messages[1].Content)

	require.Len(t, backend.requests, 1)
	assert.Equal(t, []models.ChatMessage{{Role: models.RoleUser, Content: "帮我写一份简历"}}, backend.requests[0].Messages)
	assert.Equal(t, int64(0), backend.requests[0].ResumeID)

	assert.Empty(t, conv.Messages, "input conversation must not be modified")
}

func TestSendUpdatesResumeOnLaterTurn(t *testing.T) {
	backend := newMockBackend(
		textEvents("===RESUME_START===\nv1\n===RESUME_END==="),
		textEvents("改好了：\n===RESUME_START===\nv2\n===RESUME_END==="),
	)
	a := chat.NewAssistant(backend, testLogger())

	conv, _, err := a.Send(context.Background(), chat.NewConversation(7), "写简历", "", nil)
	require.NoError(t, err)

	conv, turn, err := a.Send(context.Background(), conv, "改一下", "我有五年 Go 经验", nil)
	require.NoError(t, err)

	assert.Len(t, backend.creates, 1, "second turn must not create another resume")
	assert.Equal(t, map[int64][]string{41: {"v2"}}, backend.updates)
	assert.False(t, turn.Created)
	require.NotNil(t, turn.Resume)
	assert.Equal(t, int64(41), turn.Resume.ID)
	assert.Equal(t, int64(41), conv.ResumeID)
	assert.Len(t, conv.Messages, 4)

	require.Len(t, backend.requests, 2)
	second := backend.requests[1]
	assert.Equal(t, int64(41), second.ResumeID)
	assert.Equal(t, "我有五年 Go 经验", second.UserBackground)
	assert.Len(t, second.Messages, 3)
}

func TestSendWithoutDocument(t *testing.T) {
	backend := newMockBackend(textEvents("你好，", "请告诉我你的经历。"))
	a := chat.NewAssistant(backend, testLogger())

	conv, turn, err := a.Send(context.Background(), chat.NewConversation(1), "hi", "", nil)
	require.NoError(t, err)

	assert.False(t, turn.Found)
	assert.Nil(t, turn.Resume)
	assert.Empty(t, backend.creates)
	assert.Empty(t, backend.updates)
	assert.Equal(t, "你好，请告诉我你的经历。", conv.Messages[1].Content)
	assert.Zero(t, conv.ResumeID)
}

func TestSendTransportFailure(t *testing.T) {
	tests := []struct {
		name    string
		backend *mockBackend
	}{
		{
			name:    "Request rejected",
			backend: &mockBackend{streamErr: errors.New("unexpected status code: 502")},
		},
		{
			name:    "No body",
			backend: &mockBackend{streamErr: errors.New("no response body")},
		},
		{
			name: "Stream cut before done",
			backend: &mockBackend{streams: [][]string{{
				"data: {\"type\":\"text\",\"content\":\"===RESUME_START===\\nhalf\\n===RESUME_END===\"}\n",
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := chat.NewAssistant(tt.backend, testLogger())

			conv, turn, err := a.Send(context.Background(), chat.NewConversation(3), "写简历", "", nil)
			require.Error(t, err)
			assert.NotEmpty(t, err.Error())

			assert.Empty(t, turn.Reply.Content)
			assert.False(t, turn.Found)
			assert.Empty(t, tt.backend.creates)
			assert.Empty(t, tt.backend.updates)
			assert.Zero(t, conv.ResumeID)

			require.Len(t, conv.Messages, 2)
			notice := conv.Messages[1]
			assert.True(t, notice.Error)
			assert.Equal(t, models.RoleAssistant, notice.Role)
			assert.True(t, strings.HasPrefix(notice.Content, "抱歉，发生了错误："))
		})
	}
}

func TestSendCancelled(t *testing.T) {
	backend := newMockBackend(textEvents("a", "b", "c"))
	a := chat.NewAssistant(backend, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	conv, _, err := a.Send(ctx, chat.NewConversation(3), "hi", "", func(string) { cancel() })

	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
}

func TestSendSaveFailureKeepsReply(t *testing.T) {
	backend := newMockBackend(textEvents("===RESUME_START===\ncv\n===RESUME_END==="))
	backend.saveErr = errors.New("database is locked")
	a := chat.NewAssistant(backend, testLogger())

	conv, turn, err := a.Send(context.Background(), chat.NewConversation(5), "写简历", "", nil)
	require.NoError(t, err)

	require.Error(t, turn.SaveErr)
	assert.Contains(t, turn.SaveErr.Error(), "database is locked")
	assert.True(t, turn.Found)
	assert.Nil(t, turn.Resume)
	assert.Zero(t, conv.ResumeID)
	require.Len(t, conv.Messages, 2)
	assert.False(t, conv.Messages[1].Error)
	assert.Equal(t, turn.Reply, conv.Messages[1])
}

func TestSendErrorNoticesAreNotSentAsHistory(t *testing.T) {
	backend := newMockBackend(textEvents("ok"))
	a := chat.NewAssistant(backend, testLogger())

	conv := chat.NewConversation(2)
	conv.Messages = []models.Message{
		{Role: models.RoleUser, Content: "first"},
		chat.ErrorNotice(errors.New("boom"), time.Now()),
	}

	_, _, err := a.Send(context.Background(), conv, "second", "", nil)
	require.NoError(t, err)

	require.Len(t, backend.requests, 1)
	assert.Equal(t, []models.ChatMessage{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleUser, Content: "second"},
	}, backend.requests[0].Messages)
}

func TestSendRejectsInvalidInput(t *testing.T) {
	backend := newMockBackend()
	a := chat.NewAssistant(backend, testLogger())

	_, _, err := a.Send(context.Background(), chat.NewConversation(1), "  \n ", "", nil)
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)

	_, _, err = a.Send(context.Background(), chat.Conversation{ID: "x"}, "hi", "", nil)
	assert.ErrorIs(t, err, chat.ErrNoJob)

	assert.Empty(t, backend.requests)
}

func (m *mockBackend) StreamChat(_ context.Context, req models.ChatRequest) (io.ReadCloser, error) {
	m.requests = append(m.requests, req)
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	if len(m.streams) == 0 {
		return nil, errors.New("no stream scripted")
	}
	body := strings.Join(m.streams[0], "")
	m.streams = m.streams[1:]
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *mockBackend) CreateResume(_ context.Context, req models.ResumeCreate) (models.Resume, error) {
	if m.saveErr != nil {
		return models.Resume{}, m.saveErr
	}
	m.creates = append(m.creates, req)
	id := m.nextID
	m.nextID++
	return models.Resume{ID: id, JobID: req.JobID, Title: req.Title, Content: req.Content, Version: 1}, nil
}

func (m *mockBackend) UpdateResume(_ context.Context, id int64, req models.ResumeUpdate) (models.Resume, error) {
	if m.saveErr != nil {
		return models.Resume{}, m.saveErr
	}
	m.updates[id] = append(m.updates[id], *req.Content)
	return models.Resume{ID: id, Content: *req.Content, Version: len(m.updates[id]) + 1}, nil
}
