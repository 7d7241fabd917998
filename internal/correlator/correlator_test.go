package correlator

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/protocol"
)

func success(requestID, gameID string) protocol.Outbound {
	return protocol.StartGameSuccess{
		Envelope:  protocol.Env(protocol.TypeStartGameSuccess),
		RequestID: requestID,
		Game:      &models.Game{ID: gameID},
	}
}

func TestDo_ReplaysWithinTTL(t *testing.T) {
	c := New(30 * time.Second)
	var calls int32
	fn := func() protocol.Outbound {
		n := atomic.AddInt32(&calls, 1)
		return success("abc", "game-"+string(rune('0'+n)))
	}

	first, replayed := c.Do("u1", protocol.TypeStartGameRequest, "abc", fn)
	assert.False(t, replayed)
	second, replayed := c.Do("u1", protocol.TypeStartGameRequest, "abc", fn)
	assert.True(t, replayed)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, first, second)
	assert.Equal(t, Stats{Executed: 1, Replayed: 1}, c.GetStats())
}

func TestDo_KeyIncludesUserAndType(t *testing.T) {
	c := New(time.Minute)
	var calls int32
	fn := func() protocol.Outbound {
		atomic.AddInt32(&calls, 1)
		return success("r", "g")
	}

	c.Do("u1", protocol.TypeStartGameRequest, "r", fn)
	c.Do("u2", protocol.TypeStartGameRequest, "r", fn)
	c.Do("u1", protocol.TypeCreateRoom, "r", fn)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDo_EmptyRequestIDNotCached(t *testing.T) {
	c := New(time.Minute)
	var calls int32
	fn := func() protocol.Outbound {
		atomic.AddInt32(&calls, 1)
		return success("", "g")
	}

	c.Do("u1", protocol.TypeCreateRoom, "", fn)
	c.Do("u1", protocol.TypeCreateRoom, "", fn)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, c.Len())
}

func TestDo_ExpiresAfterTTL(t *testing.T) {
	c := New(30 * time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }

	var calls int32
	fn := func() protocol.Outbound {
		atomic.AddInt32(&calls, 1)
		return success("r", "g")
	}

	c.Do("u1", protocol.TypeJoinRoomRequest, "r", fn)
	now = now.Add(31 * time.Second)
	_, replayed := c.Do("u1", protocol.TypeJoinRoomRequest, "r", fn)

	assert.False(t, replayed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDo_ConcurrentDuplicatesExecuteOnce(t *testing.T) {
	c := New(time.Minute)
	var calls int32
	release := make(chan struct{})
	fn := func() protocol.Outbound {
		atomic.AddInt32(&calls, 1)
		<-release
		return success("abc", "g1")
	}

	var wg sync.WaitGroup
	replies := make([]protocol.Outbound, 8)
	for i := range replies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i], _ = c.Do("u1", protocol.TypeStartGameRequest, "abc", fn)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range replies {
		require.NotNil(t, r)
		assert.Equal(t, "g1", r.(protocol.StartGameSuccess).Game.ID)
	}
}

func TestDo_InternalFailuresAreRetryable(t *testing.T) {
	c := New(time.Minute)
	var calls int32
	fn := func() protocol.Outbound {
		atomic.AddInt32(&calls, 1)
		return protocol.NewFailure(protocol.TypeStartGameError, "r", errors.New("db down"))
	}

	c.Do("u1", protocol.TypeStartGameRequest, "r", fn)
	c.Do("u1", protocol.TypeStartGameRequest, "r", fn)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	domain := func() protocol.Outbound {
		atomic.AddInt32(&calls, 1)
		return protocol.NewFailure(protocol.TypeStartGameError, "r2", models.ErrNotEnoughPlayers)
	}
	c.Do("u1", protocol.TypeStartGameRequest, "r2", domain)
	_, replayed := c.Do("u1", protocol.TypeStartGameRequest, "r2", domain)
	assert.True(t, replayed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPurge(t *testing.T) {
	c := New(time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Do("u", protocol.TypeCreateRoom, "a", func() protocol.Outbound { return success("a", "g") })
	c.Do("u", protocol.TypeCreateRoom, "b", func() protocol.Outbound { return success("b", "g") })
	assert.Equal(t, 2, c.Len())

	now = now.Add(2 * time.Second)
	assert.Equal(t, 2, c.Purge())
	assert.Equal(t, 0, c.Len())
}
