package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// BoltDB is a history store backed by a BoltDB file. Chat summaries live in one bucket per chat mode, and
// the messages of every chat live in their own bucket, keyed by position.
type BoltDB struct {
	db *bolt.DB
}

const lockTimeout = 2 * time.Second

var chatModes = []models.ChatMode{models.ChatModeStandard, models.ChatModeMultiAgent}

// NewBoltDB opens (or creates, with 0600 permissions) the database at path and makes sure the summary
// buckets exist. It fails after lockTimeout when another process holds the file.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, mode := range chatModes {
			if _, err := tx.CreateBucketIfNotExists(chatsBucketName(mode)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to initialize bolt db: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func chatsBucketName(mode models.ChatMode) []byte {
	return []byte(fmt.Sprintf("chats-%s", mode))
}

func messageBucketName(chatID string) []byte {
	return []byte(fmt.Sprintf("chat-%s", chatID))
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// ChatHistories returns the chats of mode, most recent first.
func (b BoltDB) ChatHistories(_ context.Context, mode models.ChatMode) ([]models.ChatSummary, error) {
	summaries := []models.ChatSummary{}
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatsBucketName(mode))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var summary models.ChatSummary
			if err := json.Unmarshal(v, &summary); err != nil {
				return fmt.Errorf("failed to unmarshal chat: %w", err)
			}
			summaries = append(summaries, summary)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortSummaries(summaries)
	return summaries, nil
}

// ChatMessages returns the messages of a chat in their stored order. An unknown chat has no messages.
func (b BoltDB) ChatMessages(_ context.Context, chatID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messageBucketName(chatID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateChat stores a new empty chat and its message bucket. The chat id combines the bucket sequence with a
// random uuid. An empty title becomes "Chat <n>".
func (b BoltDB) CreateChat(_ context.Context, mode models.ChatMode, title string) (models.ChatSummary, error) {
	var summary models.ChatSummary
	err := b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatsBucketName(mode))
		if b == nil {
			return fmt.Errorf("unknown chat mode %q", mode)
		}

		idPrefix, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		existing := 0
		if err := b.ForEach(func(_, _ []byte) error {
			existing++
			return nil
		}); err != nil {
			return fmt.Errorf("failed to count chats: %w", err)
		}
		summary = newSummary(fmt.Sprintf("%d-%s", idPrefix, uuid.New()), mode, title, existing)

		if _, err := tx.CreateBucketIfNotExists(messageBucketName(summary.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to marshal chat: %w", err)
		}

		return b.Put([]byte(summary.ID), v)
	})
	if err != nil {
		return models.ChatSummary{}, err
	}

	return summary, nil
}

// UpdateChat replaces the stored messages of a chat and refreshes its summary, atomically.
func (b BoltDB) UpdateChat(_ context.Context, chatID string, msgs []models.Message) (models.ChatSummary, error) {
	var summary models.ChatSummary
	err := b.db.Update(func(tx *bolt.Tx) error {
		chats, v := findChat(tx, chatID)
		if v == nil {
			return fmt.Errorf("failed to update chat %s: %w", chatID, ErrChatNotFound)
		}
		if err := json.Unmarshal(v, &summary); err != nil {
			return fmt.Errorf("failed to unmarshal chat: %w", err)
		}

		name := messageBucketName(chatID)
		if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to clear message bucket: %w", err)
		}
		mb, err := tx.CreateBucket(name)
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}
		for i, msg := range msgs {
			mv, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := mb.Put(itob(uint64(i)), mv); err != nil {
				return fmt.Errorf("failed to put message: %w", err)
			}
		}

		summary = summarize(summary, msgs)
		sv, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to marshal chat: %w", err)
		}
		return chats.Put([]byte(chatID), sv)
	})
	if err != nil {
		return models.ChatSummary{}, err
	}

	return summary, nil
}

// DeleteChat removes a chat of mode together with its messages, and reports whether the chat existed.
func (b BoltDB) DeleteChat(_ context.Context, chatID string, mode models.ChatMode) (bool, error) {
	var deleted bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatsBucketName(mode))
		if b == nil || b.Get([]byte(chatID)) == nil {
			return nil
		}
		if err := b.Delete([]byte(chatID)); err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		if err := tx.DeleteBucket(messageBucketName(chatID)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete message bucket: %w", err)
		}
		deleted = true
		return nil
	})

	return deleted, err
}

func findChat(tx *bolt.Tx, chatID string) (*bolt.Bucket, []byte) {
	for _, mode := range chatModes {
		b := tx.Bucket(chatsBucketName(mode))
		if b == nil {
			continue
		}
		if v := b.Get([]byte(chatID)); v != nil {
			return b, v
		}
	}
	return nil, nil
}
