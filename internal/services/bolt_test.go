package services_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/resume-web-ui/internal/chat"
	"github.com/MegaGrindStone/resume-web-ui/internal/models"
	"github.com/MegaGrindStone/resume-web-ui/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltDB(t *testing.T) services.BoltDB {
	t.Helper()
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBoltDBConversations(t *testing.T) {
	db := newTestBoltDB(t)
	ctx := context.Background()

	conv, err := db.Conversation(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), conv.JobID)
	assert.NotEmpty(t, conv.ID)
	assert.Empty(t, conv.Messages)

	ts := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	conv.ResumeID = 41
	conv.Messages = []models.Message{
		{ID: "1", Role: models.RoleUser, Content: "写简历", Timestamp: ts},
		chat.ErrorNotice(assert.AnError, ts),
	}
	require.NoError(t, db.SaveConversation(ctx, conv))

	got, err := db.Conversation(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, int64(41), got.ResumeID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "写简历", got.Messages[0].Content)
	assert.True(t, got.Messages[0].Timestamp.Equal(ts))
	assert.True(t, got.Messages[1].Error)

	other, err := db.Conversation(ctx, 8)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, other.ID)
	assert.Empty(t, other.Messages)

	require.NoError(t, db.ClearConversation(ctx, 7))
	cleared, err := db.Conversation(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, cleared.Messages)
	assert.Zero(t, cleared.ResumeID)

	assert.NoError(t, db.ClearConversation(ctx, 99))
}

func TestBoltDBSaveConversationWithoutJob(t *testing.T) {
	db := newTestBoltDB(t)

	err := db.SaveConversation(context.Background(), chat.Conversation{ID: "x"})
	assert.Error(t, err)
}

func TestBoltDBGuides(t *testing.T) {
	db := newTestBoltDB(t)
	ctx := context.Background()

	guide, err := db.Guide(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.Guide{JobID: 3}, guide)

	ts := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	guide, _ = guide.Append("自我介绍控制在两分钟", ts)
	guide.Title = "一面准备"
	require.NoError(t, db.SaveGuide(ctx, guide))

	got, err := db.Guide(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "一面准备", got.Title)
	assert.Equal(t, guide.Content, got.Content)
	assert.True(t, got.UpdatedAt.Equal(ts))

	other, err := db.Guide(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, other.Content)

	require.NoError(t, db.ClearGuide(ctx, 3))
	cleared, err := db.Guide(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultGuideTitle, cleared.DisplayTitle())
	assert.Empty(t, cleared.Content)

	assert.Error(t, db.SaveGuide(ctx, models.Guide{Content: "x"}))
}

func TestBoltDBPreferences(t *testing.T) {
	db := newTestBoltDB(t)
	ctx := context.Background()

	v, err := db.Preference(ctx, services.PreferenceBackground)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.SetPreference(ctx, services.PreferenceBackground, "五年 Go 经验"))
	v, err = db.Preference(ctx, services.PreferenceBackground)
	require.NoError(t, err)
	assert.Equal(t, "五年 Go 经验", v)

	require.NoError(t, db.SetPreference(ctx, services.PreferenceBackground, ""))
	v, err = db.Preference(ctx, services.PreferenceBackground)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestBoltDBReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	db, err := services.NewBoltDB(path)
	require.NoError(t, err)
	require.NoError(t, db.SetPreference(ctx, services.PreferenceLastJob, "3"))
	require.NoError(t, db.Close())

	db, err = services.NewBoltDB(path)
	require.NoError(t, err)
	defer db.Close()

	v, err := db.Preference(ctx, services.PreferenceLastJob)
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}
