package models_test

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/MegaGrindStone/resume-web-ui/internal/models"
)

func TestTimestampUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "RFC3339 with zone",
			input: `"2025-03-01T08:30:00+08:00"`,
			want:  time.Date(2025, 3, 1, 8, 30, 0, 0, time.FixedZone("", 8*3600)),
		},
		{
			name:  "Naive with microseconds",
			input: `"2025-03-01T08:30:00.123456"`,
			want:  time.Date(2025, 3, 1, 8, 30, 0, 123456000, time.UTC),
		},
		{
			name:  "Space separated",
			input: `"2025-03-01 08:30:00"`,
			want:  time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC),
		},
		{
			name:  "Null",
			input: `null`,
		},
		{
			name:    "Garbage",
			input:   `"yesterday"`,
			wantErr: true,
		},
		{
			name:    "Number",
			input:   `1700000000`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts models.Timestamp
			err := json.Unmarshal([]byte(tt.input), &ts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !ts.Equal(tt.want) {
				t.Errorf("Unmarshal() = %v, want %v", ts.Time, tt.want)
			}
		})
	}
}

func TestJobDecodesBackendPayload(t *testing.T) {
	payload := `{"id":3,"title":"后端工程师","company":null,"content":"JD","status":"interviewing",` +
		`"created_at":"2025-03-01T08:30:00","updated_at":null}`

	var job models.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if job.ID != 3 || job.Company != "" || job.Status != models.JobStatusInterviewing {
		t.Errorf("Unmarshal() = %+v", job)
	}
	if !job.UpdatedAt.IsZero() {
		t.Errorf("UpdatedAt = %v, want zero", job.UpdatedAt)
	}
}

func TestJobStatusLabel(t *testing.T) {
	if got := models.JobStatusOffered.Label(); got != "已oc" {
		t.Errorf("Label() = %q", got)
	}
	if got := models.JobStatus("").Label(); got != models.JobStatusPending.Label() {
		t.Errorf("empty status Label() = %q, want pending label", got)
	}
	if models.JobStatus("archived").Valid() {
		t.Error("unknown status should not be valid")
	}
	for _, s := range models.JobStatuses() {
		if !s.Valid() {
			t.Errorf("status %q should be valid", s)
		}
	}
}

func TestHistory(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "帮我写一份简历"},
		{Role: models.RoleAssistant, Content: "抱歉，发生了错误：timeout", Error: true},
		{Role: models.RoleUser, Content: "再试一次"},
		{Role: models.RoleAssistant, Content: "好的"},
		{Role: "system", Content: "ignored"},
	}

	want := []models.ChatMessage{
		{Role: models.RoleUser, Content: "帮我写一份简历"},
		{Role: models.RoleUser, Content: "再试一次"},
		{Role: models.RoleAssistant, Content: "好的"},
	}

	if got := models.History(messages); !slices.Equal(got, want) {
		t.Errorf("History() = %+v, want %+v", got, want)
	}
}

func TestGuideAppend(t *testing.T) {
	ts := time.Date(2025, 3, 1, 8, 30, 5, 0, time.UTC)

	g, ok := models.Guide{JobID: 1}.Append("  先复习分布式事务  ", ts)
	if !ok {
		t.Fatal("Append() on empty guide reported no change")
	}
	if want := "## 摘录 · 2025/3/1 08:30:05\n\n先复习分布式事务"; g.Content != want {
		t.Errorf("Append() content = %q, want %q", g.Content, want)
	}
	if !g.UpdatedAt.Equal(ts) {
		t.Errorf("Append() updated at = %v", g.UpdatedAt)
	}

	g, _ = g.Append("准备项目介绍", ts)
	if want := "\n\n---\n\n## 摘录 · 2025/3/1 08:30:05\n\n准备项目介绍"; g.Content[len(g.Content)-len(want):] != want {
		t.Errorf("second Append() content = %q", g.Content)
	}

	if _, ok := g.Append(" \n ", ts); ok {
		t.Error("Append() of blank text should report no change")
	}
}

func TestGuideDisplayTitle(t *testing.T) {
	if got := (models.Guide{}).DisplayTitle(); got != models.DefaultGuideTitle {
		t.Errorf("DisplayTitle() = %q", got)
	}
	if got := (models.Guide{Title: " 字节二面 "}).DisplayTitle(); got != "字节二面" {
		t.Errorf("DisplayTitle() = %q", got)
	}
}

func TestSettingsProviderIDs(t *testing.T) {
	s := models.Settings{Providers: map[string]models.ProviderConfig{
		"zhipu":     {Name: "智谱"},
		"local":     {Name: "Local"},
		"anthropic": {Name: "Anthropic", Models: []models.ModelOption{{ID: "claude-sonnet-4-6"}}},
		"custom":    {Name: "Custom"},
	}}

	want := []string{"anthropic", "zhipu", "custom", "local"}
	if got := s.ProviderIDs(); !slices.Equal(got, want) {
		t.Errorf("ProviderIDs() = %v, want %v", got, want)
	}
	if !s.HasModel("anthropic", "claude-sonnet-4-6") {
		t.Error("HasModel() should find a listed model")
	}
	if s.HasModel("anthropic", "gpt-4o") || s.HasModel("openai", "gpt-4o") {
		t.Error("HasModel() should reject unknown models")
	}
}
