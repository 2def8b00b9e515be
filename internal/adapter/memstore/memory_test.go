package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryCreatesEmptySession(t *testing.T) {
	s := NewConversationStore()

	assert.Empty(t, s.History("new"))
	assert.Equal(t, 1, s.Sessions())
}

func TestAppendPreservesOrder(t *testing.T) {
	s := NewConversationStore()

	s.Append("s1", "q1", "a1")
	s.Append("s1", "q2", "a2")
	turn := s.Append("s1", "q3", "a3")

	assert.Equal(t, "q3", turn.Question)
	assert.False(t, turn.At.IsZero())

	hist := s.History("s1")
	require.Len(t, hist, 3)
	for i, turn := range hist {
		assert.Equal(t, fmt.Sprintf("q%d", i+1), turn.Question)
		assert.Equal(t, fmt.Sprintf("a%d", i+1), turn.Answer)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	s := NewConversationStore()

	s.Append("A", "question for A", "answer for A")

	assert.Empty(t, s.History("B"))
	assert.Len(t, s.History("A"), 1)
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := NewConversationStore()
	s.Append("s", "q", "a")

	hist := s.History("s")
	hist[0].Answer = "mutated"

	assert.Equal(t, "a", s.History("s")[0].Answer)
}

func TestHistoryPrefixProperty(t *testing.T) {
	s := NewConversationStore()

	s.Append("s", "q1", "a1")
	before := s.History("s")
	s.Append("s", "q2", "a2")
	after := s.History("s")

	require.Len(t, after, len(before)+1)
	assert.Equal(t, before, after[:len(before)])
}

func TestMaxStoredTurns(t *testing.T) {
	s := NewConversationStore(WithMaxStoredTurns(2))

	s.Append("s", "q1", "a1")
	s.Append("s", "q2", "a2")
	s.Append("s", "q3", "a3")

	hist := s.History("s")
	require.Len(t, hist, 2)
	assert.Equal(t, "q2", hist[0].Question)
	assert.Equal(t, "q3", hist[1].Question)
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewConversationStore(WithClock(func() time.Time { return fixed }))

	assert.Equal(t, fixed, s.Append("s", "q", "a").At)
}

func TestConcurrentAppendsDifferentSessions(t *testing.T) {
	s := NewConversationStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i%4)
			for j := 0; j < 50; j++ {
				s.Append(id, "q", "a")
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, s.Sessions())
	for i := 0; i < 4; i++ {
		assert.Len(t, s.History(fmt.Sprintf("session-%d", i)), 250)
	}
}

func TestAcquireSerializesSameSession(t *testing.T) {
	s := NewConversationStore()

	release, err := s.Acquire(context.Background(), "s")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "s")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op

	release2, err := s.Acquire(context.Background(), "s")
	require.NoError(t, err)
	release2()
}

func TestAcquireDoesNotBlockOtherSessions(t *testing.T) {
	s := NewConversationStore()

	release, err := s.Acquire(context.Background(), "A")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := s.Acquire(ctx, "B")
	require.NoError(t, err)
	releaseB()
}
