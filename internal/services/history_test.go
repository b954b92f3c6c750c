package services_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/MegaGrindStone/agent-chat-ui/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type historyStore interface {
	ChatHistories(ctx context.Context, mode models.ChatMode) ([]models.ChatSummary, error)
	ChatMessages(ctx context.Context, chatID string) ([]models.Message, error)
	CreateChat(ctx context.Context, mode models.ChatMode, title string) (models.ChatSummary, error)
	UpdateChat(ctx context.Context, chatID string, msgs []models.Message) (models.ChatSummary, error)
	DeleteChat(ctx context.Context, chatID string, mode models.ChatMode) (bool, error)
}

func historyStores(t *testing.T) map[string]historyStore {
	t.Helper()

	bolt, err := services.NewBoltDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]historyStore{
		"memory": services.NewMemoryHistory(),
		"bolt":   bolt,
	}
}

func TestHistoryStoreCreate(t *testing.T) {
	for name, store := range historyStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := store.CreateChat(ctx, models.ChatModeStandard, "")
			require.NoError(t, err)
			assert.Equal(t, "Chat 1", first.Title)
			assert.Equal(t, models.ChatModeStandard, first.Mode)
			assert.Zero(t, first.MessageCount)

			second, err := store.CreateChat(ctx, models.ChatModeStandard, "Named")
			require.NoError(t, err)
			assert.Equal(t, "Named", second.Title)
			assert.NotEqual(t, first.ID, second.ID)

			other, err := store.CreateChat(ctx, models.ChatModeMultiAgent, "")
			require.NoError(t, err)
			assert.Equal(t, "Chat 1", other.Title)

			standard, err := store.ChatHistories(ctx, models.ChatModeStandard)
			require.NoError(t, err)
			assert.Len(t, standard, 2)

			multi, err := store.ChatHistories(ctx, models.ChatModeMultiAgent)
			require.NoError(t, err)
			require.Len(t, multi, 1)
			assert.Equal(t, other.ID, multi[0].ID)

			msgs, err := store.ChatMessages(ctx, first.ID)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestHistoryStoreUpdate(t *testing.T) {
	for name, store := range historyStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			older, err := store.CreateChat(ctx, models.ChatModeStandard, "older")
			require.NoError(t, err)
			chat, err := store.CreateChat(ctx, models.ChatModeStandard, "newer")
			require.NoError(t, err)

			time.Sleep(5 * time.Millisecond)

			long := "This reply is definitely longer than fifty characters in total."
			msgs := []models.Message{
				models.NewMessage(models.RoleUser, "Hello"),
				models.NewMessage(models.RoleAssistant, long),
			}
			summary, err := store.UpdateChat(ctx, older.ID, msgs)
			require.NoError(t, err)
			assert.Equal(t, 2, summary.MessageCount)
			assert.Equal(t, long[:47]+"...", summary.LastMessage)
			assert.Equal(t, "older", summary.Title)

			got, err := store.ChatMessages(ctx, older.ID)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, msgs[0].ID, got[0].ID)
			assert.Equal(t, msgs[1].Content, got[1].Content)

			histories, err := store.ChatHistories(ctx, models.ChatModeStandard)
			require.NoError(t, err)
			require.Len(t, histories, 2)
			assert.Equal(t, older.ID, histories[0].ID, "most recently updated chat comes first")
			assert.Equal(t, chat.ID, histories[1].ID)

			// Replacing with fewer messages drops the rest.
			_, err = store.UpdateChat(ctx, older.ID, msgs[:1])
			require.NoError(t, err)
			got, err = store.ChatMessages(ctx, older.ID)
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestHistoryStoreUpdateUnknown(t *testing.T) {
	for name, store := range historyStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.UpdateChat(context.Background(), "missing", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, services.ErrChatNotFound))
		})
	}
}

func TestHistoryStoreDelete(t *testing.T) {
	for name, store := range historyStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			chat, err := store.CreateChat(ctx, models.ChatModeMultiAgent, "")
			require.NoError(t, err)
			_, err = store.UpdateChat(ctx, chat.ID, []models.Message{models.NewMessage(models.RoleUser, "hi")})
			require.NoError(t, err)

			deleted, err := store.DeleteChat(ctx, chat.ID, models.ChatModeStandard)
			require.NoError(t, err)
			assert.False(t, deleted, "chat belongs to another mode")

			deleted, err = store.DeleteChat(ctx, chat.ID, models.ChatModeMultiAgent)
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = store.DeleteChat(ctx, chat.ID, models.ChatModeMultiAgent)
			require.NoError(t, err)
			assert.False(t, deleted)

			histories, err := store.ChatHistories(ctx, models.ChatModeMultiAgent)
			require.NoError(t, err)
			assert.Empty(t, histories)

			msgs, err := store.ChatMessages(ctx, chat.ID)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestBoltDBReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	db, err := services.NewBoltDB(path)
	require.NoError(t, err)
	chat, err := db.CreateChat(ctx, models.ChatModeStandard, "persisted")
	require.NoError(t, err)
	_, err = db.UpdateChat(ctx, chat.ID, []models.Message{models.NewMessage(models.RoleUser, "kept")})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = services.NewBoltDB(path)
	require.NoError(t, err)
	defer db.Close()

	histories, err := db.ChatHistories(ctx, models.ChatModeStandard)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	assert.Equal(t, "persisted", histories[0].Title)
	assert.Equal(t, 1, histories[0].MessageCount)

	msgs, err := db.ChatMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Content)
}
