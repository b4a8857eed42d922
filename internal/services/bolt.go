package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/MegaGrindStone/resume-web-ui/internal/chat"
	"github.com/MegaGrindStone/resume-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the Store interface using a BoltDB backend. It keeps the UI state that lives
// next to the backend rather than in it: one conversation and one interview guide per job, and
// free-form preferences such as the user's background text.
type BoltDB struct {
	db *bolt.DB
}

var (
	conversationsBucket = []byte("conversations")
	guidesBucket        = []byte("guides")
	preferencesBucket   = []byte("preferences")
)

// Preference keys.
const (
	PreferenceBackground = "background"
	PreferenceLastJob    = "last_job"
)

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{conversationsBucket, guidesBucket, preferencesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return BoltDB{}, err
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func jobKey(jobID int64) []byte {
	return []byte(strconv.FormatInt(jobID, 10))
}

// Conversation returns the conversation stored for jobID. When there is none, a new empty
// conversation is returned; it is not stored until SaveConversation is called.
func (b BoltDB) Conversation(_ context.Context, jobID int64) (chat.Conversation, error) {
	var conv chat.Conversation
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(conversationsBucket).Get(jobKey(jobID))
		if v == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(v, &conv); err != nil {
			return fmt.Errorf("failed to unmarshal conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return chat.Conversation{}, err
	}
	if !found {
		return chat.NewConversation(jobID), nil
	}
	return conv, nil
}

// SaveConversation stores conv, replacing the conversation previously stored for its job.
func (b BoltDB) SaveConversation(_ context.Context, conv chat.Conversation) error {
	if conv.JobID == 0 {
		return fmt.Errorf("conversation %s has no job", conv.ID)
	}
	v, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Put(jobKey(conv.JobID), v)
	})
}

// ClearConversation removes the conversation stored for jobID. Clearing a job without a
// conversation is not an error.
func (b BoltDB) ClearConversation(_ context.Context, jobID int64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Delete(jobKey(jobID))
	})
}

// Guide returns the interview guide stored for jobID, or an empty guide.
func (b BoltDB) Guide(_ context.Context, jobID int64) (models.Guide, error) {
	guide := models.Guide{JobID: jobID}
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(guidesBucket).Get(jobKey(jobID))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &guide); err != nil {
			return fmt.Errorf("failed to unmarshal guide: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Guide{}, err
	}
	return guide, nil
}

// SaveGuide stores guide, replacing the guide previously stored for its job.
func (b BoltDB) SaveGuide(_ context.Context, guide models.Guide) error {
	if guide.JobID == 0 {
		return fmt.Errorf("guide has no job")
	}
	v, err := json.Marshal(guide)
	if err != nil {
		return fmt.Errorf("failed to marshal guide: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(guidesBucket).Put(jobKey(guide.JobID), v)
	})
}

// ClearGuide removes the guide of jobID, title included.
func (b BoltDB) ClearGuide(_ context.Context, jobID int64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(guidesBucket).Delete(jobKey(jobID))
	})
}

// Preference returns the value stored under key, or an empty string.
func (b BoltDB) Preference(_ context.Context, key string) (string, error) {
	var value string
	err := b.db.View(func(tx *bolt.Tx) error {
		value = string(tx.Bucket(preferencesBucket).Get([]byte(key)))
		return nil
	})
	return value, err
}

// SetPreference stores value under key. An empty value removes the key.
func (b BoltDB) SetPreference(_ context.Context, key, value string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(preferencesBucket)
		if value == "" {
			return bk.Delete([]byte(key))
		}
		return bk.Put([]byte(key), []byte(value))
	})
}
