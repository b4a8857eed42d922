package stream_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/MegaGrindStone/resume-web-ui/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errReader struct {
	data string
	err  error
	done bool
}

type chunkReader struct {
	chunks []string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecoderSplitInvariance(t *testing.T) {
	input := "data: {\"type\":\"text\",\"content\":\"你好\"}\n\n" +
		"data: {\"type\":\"text\",\"content\":\"世界\"}\n\n" +
		"data: {\"type\":\"done\"}\n\n"

	want := stream.NewDecoder().Feed([]byte(input))
	require.Len(t, want, 6)

	// Every pair of cut points, including cuts inside multi-byte characters and between "\n\n".
	raw := []byte(input)
	for i := 0; i <= len(raw); i++ {
		for j := i; j <= len(raw); j += 7 {
			dec := stream.NewDecoder()
			var got []string
			got = append(got, dec.Feed(raw[:i])...)
			got = append(got, dec.Feed(raw[i:j])...)
			got = append(got, dec.Feed(raw[j:])...)
			require.Equal(t, want, got, "cuts at %d and %d", i, j)
			assert.Empty(t, dec.Pending())
		}
	}
}

func TestDecoderKeepsPartialRecord(t *testing.T) {
	dec := stream.NewDecoder()

	assert.Empty(t, dec.Feed([]byte("data: {\"ty")))
	assert.Equal(t, "data: {\"ty", dec.Pending())

	got := dec.Feed([]byte("pe\":\"done\"}\ndata: tail"))
	assert.Equal(t, []string{"data: {\"type\":\"done\"}"}, got)
	assert.Equal(t, "data: tail", dec.Pending())
}

func TestRecordsDropsUnterminatedTail(t *testing.T) {
	r := &chunkReader{chunks: []string{"first\nsec", "ond\nthi", "rd"}}

	var got []string
	for rec, err := range stream.Records(r) {
		require.NoError(t, err)
		got = append(got, rec)
	}

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestRecordsReadError(t *testing.T) {
	readErr := errors.New("connection reset")
	r := &errReader{data: "one\ntwo", err: readErr}

	var got []string
	var gotErr error
	for rec, err := range stream.Records(r) {
		if err != nil {
			gotErr = err
			continue
		}
		got = append(got, rec)
	}

	assert.Equal(t, []string{"one"}, got)
	assert.ErrorIs(t, gotErr, readErr)
}

func TestRouterDispatch(t *testing.T) {
	var texts []string
	doneCount := 0
	router := stream.NewRouter(stream.Handler{
		OnText: func(s string) { texts = append(texts, s) },
		OnDone: func() { doneCount++ },
	}, discardLogger())

	records := []string{
		": keep-alive",
		"",
		`data: {"type":"text","content":"a"}`,
		`data: {not valid json`,
		`data: {"type":"text","content":"b"}`,
		`data: {"type":"text","content":42}`,
		`data: {"type":"usage","tokens":12}`,
		`event: text`,
		`data: {"type":"done"}`,
		`data: {"type":"text","content":"late"}`,
		`data: {"type":"done"}`,
	}

	var doneAt []int
	for i, rec := range records {
		if router.Route(rec) {
			doneAt = append(doneAt, i)
		}
	}

	assert.Equal(t, []string{"a", "b"}, texts)
	assert.Equal(t, 1, doneCount)
	assert.Equal(t, []int{8, 9, 10}, doneAt)
	assert.True(t, router.Done())
}

func TestTranscriptAppend(t *testing.T) {
	var tr stream.Transcript

	assert.Equal(t, "a", tr.Append("a"))
	assert.Equal(t, "ab", tr.Append("b"))
	assert.Equal(t, "ab", tr.Append(""))
	assert.Equal(t, "ab", tr.String())

	tr.Reset()
	assert.Empty(t, tr.String())
}

func TestConsume(t *testing.T) {
	tests := []struct {
		name        string
		chunks      []string
		wantText    string
		wantUpdates []string
		wantErr     error
	}{
		{
			name: "Concatenates text until done",
			chunks: []string{
				"data: {\"type\":\"text\",\"content\":\"===RESUME_START===\\n\"}\n\n",
				"data: {\"type\":\"text\",\"content\":\"# 张三\\n\\n## 经历\"}\n",
				"\ndata: {\"type\":\"text\",\"content\":\"\\n===RESUME_END===\\n谢谢\"}\n\n",
				"data: {\"type\":\"done\"}\n\n",
			},
			wantText: "===RESUME_START===\n# 张三\n\n## 经历\n===RESUME_END===\n谢谢",
			wantUpdates: []string{
				"===RESUME_START===\n",
				"===RESUME_START===\n# 张三\n\n## 经历",
				"===RESUME_START===\n# 张三\n\n## 经历\n===RESUME_END===\n谢谢",
			},
		},
		{
			name: "Malformed record between valid ones",
			chunks: []string{
				"data: {\"type\":\"text\",\"content\":\"one\"}\n",
				"data: {not valid json\n",
				"data: {\"type\":\"text\",\"content\":\"two\"}\n",
				"data: {\"type\":\"done\"}\n",
			},
			wantText:    "onetwo",
			wantUpdates: []string{"one", "onetwo"},
		},
		{
			name:        "Done without text",
			chunks:      []string{"data: {\"type\":\"done\"}\n"},
			wantText:    "",
			wantUpdates: nil,
		},
		{
			name: "Ends before done",
			chunks: []string{
				"data: {\"type\":\"text\",\"content\":\"partial\"}\n",
				"data: {\"type\":\"done\"}",
			},
			wantUpdates: []string{"partial"},
			wantErr:     stream.ErrIncompleteStream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var updates []string
			got, err := stream.Consume(context.Background(), &chunkReader{chunks: tt.chunks}, func(s string) {
				updates = append(updates, s)
			}, discardLogger())

			assert.Equal(t, tt.wantUpdates, updates)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, got)
		})
	}
}

func TestConsumeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := &chunkReader{chunks: []string{
		"data: {\"type\":\"text\",\"content\":\"a\"}\n",
		"data: {\"type\":\"text\",\"content\":\"b\"}\n",
		"data: {\"type\":\"done\"}\n",
	}}

	var updates []string
	got, err := stream.Consume(ctx, r, func(s string) {
		updates = append(updates, s)
		cancel()
	}, discardLogger())

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, got)
	assert.Equal(t, []string{"a"}, updates)
}

func TestConsumeReadError(t *testing.T) {
	readErr := errors.New("broken pipe")
	r := &errReader{data: "data: {\"type\":\"text\",\"content\":\"a\"}\n", err: readErr}

	got, err := stream.Consume(context.Background(), r, nil, discardLogger())

	require.ErrorIs(t, err, readErr)
	assert.Empty(t, got)
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (e *errReader) Read(p []byte) (int, error) {
	if e.done {
		return 0, e.err
	}
	e.done = true
	return copy(p, e.data), nil
}
