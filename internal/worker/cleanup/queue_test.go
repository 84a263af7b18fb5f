package cleanup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock はテスト用の時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(defaultDelay time.Duration) (*Queue, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewQueue(defaultDelay)
	q.now = clock.Now
	return q, clock
}

func TestDrainDue_ZeroDelayIsImmediatelyDue(t *testing.T) {
	q, _ := newTestQueue(time.Minute)

	q.Enqueue(100, 7, 0)

	assert.Equal(t, map[int64][]int{100: {7}}, q.DrainDue())
	assert.Equal(t, 0, q.Len())
}

func TestDrainDue_SecondDrainIsEmpty(t *testing.T) {
	q, clock := newTestQueue(time.Minute)

	q.Enqueue(100, 1, 10*time.Second)
	q.Enqueue(100, 2, 10*time.Second)
	q.Enqueue(200, 3, 10*time.Second)
	clock.Advance(10 * time.Second)

	first := q.DrainDue()
	assert.Equal(t, map[int64][]int{100: {1, 2}, 200: {3}}, first)

	second := q.DrainDue()
	require.NotNil(t, second)
	assert.Empty(t, second)
}

func TestDrainDue_KeepsNotYetDueEntries(t *testing.T) {
	q, clock := newTestQueue(time.Minute)

	q.Enqueue(100, 1, 5*time.Second)
	q.Enqueue(100, 2, 30*time.Second)
	q.EnqueueDefault(300, 9)

	clock.Advance(5 * time.Second)
	assert.Equal(t, map[int64][]int{100: {1}}, q.DrainDue())
	assert.Equal(t, 2, q.Len())

	clock.Advance(25 * time.Second)
	assert.Equal(t, map[int64][]int{100: {2}}, q.DrainDue())

	clock.Advance(30 * time.Second)
	assert.Equal(t, map[int64][]int{300: {9}}, q.DrainDue())
	assert.Equal(t, 0, q.Len())
}

func TestEnqueue_NoDeduplication(t *testing.T) {
	q, _ := newTestQueue(0)

	q.Enqueue(100, 5, 0)
	q.Enqueue(100, 5, 0)

	assert.Equal(t, map[int64][]int{100: {5, 5}}, q.DrainDue())
}

func TestDrainDue_EmptyQueueReturnsEmptyMap(t *testing.T) {
	q, _ := newTestQueue(0)

	got := q.DrainDue()
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestQueue_ConcurrentEnqueueAndDrain(t *testing.T) {
	q, _ := newTestQueue(0)

	const producers, perProducer = 8, 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	drained := 0

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(target int64) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(target, i, 0)
			}
		}(int64(p))
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			n := 0
			for _, ids := range q.DrainDue() {
				n += len(ids)
			}
			mu.Lock()
			drained += n
			mu.Unlock()
		}
	}()

	wg.Wait()
	close(done)

	for _, ids := range q.DrainDue() {
		mu.Lock()
		drained += len(ids)
		mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, producers*perProducer, drained, "every entry is drained exactly once")
}
