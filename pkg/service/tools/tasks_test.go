package tools

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
)

func TestTaskStoreCreateAndList(t *testing.T) {
	store := NewTaskStore()

	first, err := store.Create("alice", "write report")
	require.NoError(t, err)
	second, err := store.Create("alice", "review patch")
	require.NoError(t, err)

	_, err = uuid.Parse(first.ID)
	assert.NoError(t, err, "task ids are UUIDs")

	tasks := store.List("alice")
	require.Len(t, tasks, 2)
	assert.Equal(t, first.ID, tasks[0].ID, "creation order is preserved")
	assert.Equal(t, second.ID, tasks[1].ID)
	assert.False(t, tasks[0].Done)
	assert.Equal(t, 2, store.Count("alice"))
}

func TestTaskStoreValidation(t *testing.T) {
	store := NewTaskStore()

	_, err := store.Create("", "title")
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeInvalidParameter, domainerrors.CodeOf(err))

	_, err = store.Create("alice", "")
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeInvalidParameter, domainerrors.CodeOf(err))
}

func TestTaskStoreOwnersAreIsolated(t *testing.T) {
	store := NewTaskStore()

	mine, err := store.Create("alice", "mine")
	require.NoError(t, err)
	_, err = store.Create("bob", "theirs")
	require.NoError(t, err)

	assert.Len(t, store.List("alice"), 1)
	assert.Len(t, store.List("bob"), 1)

	// Another owner's task id behaves like an unknown id.
	_, err = store.Complete("bob", mine.ID)
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeNotFound, domainerrors.CodeOf(err))
}

func TestTaskStoreComplete(t *testing.T) {
	store := NewTaskStore()

	task, err := store.Create("alice", "ship release")
	require.NoError(t, err)

	done, err := store.Complete("alice", task.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)
	require.NotNil(t, done.CompletedAt)

	// Completing again keeps the original completion time.
	again, err := store.Complete("alice", task.ID)
	require.NoError(t, err)
	assert.Equal(t, done.CompletedAt, again.CompletedAt)

	_, err = store.Complete("alice", uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeNotFound, domainerrors.CodeOf(err))
}
