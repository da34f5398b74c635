package native

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tellmewhen/internal/event"
)

func TestRenamePairerMatchesByCookie(t *testing.T) {
	pairer := newRenamePairer(50 * time.Millisecond)
	now := time.Now()
	pairer.hold(7, "/d/a", false, now)
	pairer.hold(9, "/d/b", true, now)

	move, ok := pairer.match(9)
	require.True(t, ok)
	assert.Equal(t, "/d/b", move.path)
	assert.True(t, move.isDir)

	_, ok = pairer.match(9)
	assert.False(t, ok, "a cookie matches once")
	_, ok = pairer.match(42)
	assert.False(t, ok, "unknown cookies never match")
	assert.Equal(t, 1, pairer.len())
}

func TestRenamePairerExpiresOldestFirst(t *testing.T) {
	pairer := newRenamePairer(50 * time.Millisecond)
	start := time.Now()
	pairer.hold(1, "/d/first", false, start)
	pairer.hold(2, "/d/second", false, start.Add(40*time.Millisecond))

	deadline, ok := pairer.deadline()
	require.True(t, ok)
	assert.Equal(t, start.Add(50*time.Millisecond), deadline)

	expired := pairer.expired(start.Add(60 * time.Millisecond))
	require.Len(t, expired, 1)
	assert.Equal(t, "/d/first", expired[0].path)

	degraded := unmatchedSource(expired[0])
	assert.Equal(t, event.FsDeleted, degraded.Kind)
	assert.True(t, degraded.Valid())

	remaining := pairer.drain()
	require.Len(t, remaining, 1)
	assert.Equal(t, "/d/second", remaining[0].path)
	_, ok = pairer.deadline()
	assert.False(t, ok)
}

func TestRenamePairerDuplicateCookie(t *testing.T) {
	pairer := newRenamePairer(0)
	now := time.Now()
	pairer.hold(5, "/d/a", false, now)
	previous, replaced := pairer.hold(5, "/d/b", false, now)
	require.True(t, replaced)
	assert.Equal(t, "/d/a", previous.path)
	assert.Equal(t, 1, pairer.len())
}
