package memory_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/cyberrag/internal/models"
	"github.com/xhad/cyberrag/pkg/memory"
)

func TestNewRejectsNonPositive(t *testing.T) {
	for _, n := range []int{0, -3} {
		_, err := memory.New(n)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	}
}

func TestAppendTrimsOldest(t *testing.T) {
	b, err := memory.New(4)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		require.NoError(t, b.Append(role, fmt.Sprintf("m%d", i)))
	}

	history := b.Snapshot()
	require.Len(t, history, 4)
	assert.Equal(t, 4, b.Len())
	for i, m := range history {
		assert.Equal(t, fmt.Sprintf("m%d", i+2), m.Content)
	}
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, models.RoleAssistant, history[3].Role)
}

func TestAppendInvalidRole(t *testing.T) {
	b, err := memory.New(2)
	require.NoError(t, err)

	for _, role := range []models.Role{models.RoleSystem, "tool", ""} {
		err := b.Append(role, "x")
		assert.ErrorIs(t, err, models.ErrInvalidRole)
	}
	assert.Equal(t, 0, b.Len())
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	b, err := memory.New(3)
	require.NoError(t, err)
	require.NoError(t, b.Append(models.RoleUser, "original"))

	snap := b.Snapshot()
	snap[0].Content = "mutated"
	_ = append(snap, models.Message{Role: models.RoleUser, Content: "extra"})

	assert.Equal(t, "original", b.Snapshot()[0].Content)
	assert.Equal(t, 1, b.Len())
}

func TestClearIsIdempotent(t *testing.T) {
	b, err := memory.New(3)
	require.NoError(t, err)

	b.Clear()
	b.Clear()
	assert.Empty(t, b.Snapshot())

	require.NoError(t, b.Append(models.RoleUser, "q"))
	b.Clear()
	assert.Empty(t, b.Snapshot())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 3, b.MaxLength())
}
