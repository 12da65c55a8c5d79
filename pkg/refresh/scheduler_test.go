package refresh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSchedulerReArmsWhilePending(t *testing.T) {
	var calls int64
	s := New(func(ctx context.Context, conversationID int64) (bool, error) {
		return atomic.AddInt64(&calls, 1) < 3, nil
	}, WithInterval(10*time.Millisecond))
	defer s.Close()

	s.Schedule(1)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&calls) == 3
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return !s.Armed(1)
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(3), atomic.LoadInt64(&calls), "scheduler must stop once the reply settles")
}

func TestSchedulerReloadErrorKeepsPolling(t *testing.T) {
	var calls int64
	s := New(func(ctx context.Context, conversationID int64) (bool, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return false, errors.New("transient")
		}
		return false, nil
	}, WithInterval(10*time.Millisecond))
	defer s.Close()

	s.Schedule(1)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&calls) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerCancelStopsPolling(t *testing.T) {
	var calls int64
	s := New(func(ctx context.Context, conversationID int64) (bool, error) {
		atomic.AddInt64(&calls, 1)
		return true, nil
	}, WithInterval(20*time.Millisecond))
	defer s.Close()

	s.Schedule(1)
	require.True(t, s.Armed(1))
	s.Cancel(1)
	require.False(t, s.Armed(1))

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestSchedulerGivesUpAfterMaxWait(t *testing.T) {
	gaveUp := make(chan int64, 1)
	s := New(func(ctx context.Context, conversationID int64) (bool, error) {
		return true, nil
	},
		WithInterval(10*time.Millisecond),
		WithMaxWait(30*time.Millisecond),
		WithOnGiveUp(func(conversationID int64) {
			gaveUp <- conversationID
		}),
	)
	defer s.Close()

	s.Schedule(1)

	select {
	case id := <-gaveUp:
		require.Equal(t, int64(1), id)
	case <-time.After(time.Second):
		t.Fatal("scheduler never gave up")
	}
	require.False(t, s.Armed(1))
}

func TestSchedulerReScheduleKeepsOriginalDeadline(t *testing.T) {
	gaveUp := make(chan struct{}, 1)
	s := New(func(ctx context.Context, conversationID int64) (bool, error) {
		return true, nil
	},
		WithInterval(10*time.Millisecond),
		WithMaxWait(50*time.Millisecond),
		WithOnGiveUp(func(int64) {
			gaveUp <- struct{}{}
		}),
	)
	defer s.Close()

	s.Schedule(1)
	// repeated scheduling must not push the give-up deadline out
	for i := 0; i < 4; i++ {
		time.Sleep(5 * time.Millisecond)
		s.Schedule(1)
	}

	select {
	case <-gaveUp:
	case <-time.After(time.Second):
		t.Fatal("re-scheduling extended the deadline")
	}
}

func TestSchedulerTracksConversationsIndependently(t *testing.T) {
	var first, second int64
	s := New(func(ctx context.Context, conversationID int64) (bool, error) {
		if conversationID == 1 {
			atomic.AddInt64(&first, 1)
			return true, nil
		}
		atomic.AddInt64(&second, 1)
		return false, nil
	}, WithInterval(10*time.Millisecond))
	defer s.Close()

	s.Schedule(1)
	s.Schedule(2)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&first) >= 2 && atomic.LoadInt64(&second) == 1
	}, time.Second, 5*time.Millisecond)
	require.True(t, s.Armed(1))
	require.False(t, s.Armed(2))
}

func TestSchedulerCloseStopsEverything(t *testing.T) {
	var calls int64
	s := New(func(ctx context.Context, conversationID int64) (bool, error) {
		atomic.AddInt64(&calls, 1)
		return true, nil
	}, WithInterval(10*time.Millisecond))

	s.Schedule(1)
	s.Schedule(2)
	s.Close()

	before := atomic.LoadInt64(&calls)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, before, atomic.LoadInt64(&calls))

	s.Schedule(3)
	require.False(t, s.Armed(3))
}
