package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(1 << 20)

	require.True(t, q.Enqueue([]byte("one")))
	require.True(t, q.Enqueue([]byte("two")))
	require.True(t, q.Enqueue([]byte("three")))

	for _, want := range []string{"one", "two", "three"} {
		chunk, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, string(chunk))
	}
}

func TestQueueDropsOverBudget(t *testing.T) {
	q := NewQueue(10)

	assert.True(t, q.Enqueue(make([]byte, 6)))
	assert.True(t, q.Enqueue(make([]byte, 4)))
	// 预算已满，新块静默丢弃
	assert.False(t, q.Enqueue([]byte{0x01}))
	assert.Equal(t, int64(1), q.Dropped())
	assert.Equal(t, int64(2), q.Accepted())

	// 消费释放预算后恢复接收
	_, ok := q.Dequeue()
	require.True(t, ok)
	assert.True(t, q.Enqueue(make([]byte, 5)))
}

func TestQueueRejectsEmptyChunk(t *testing.T) {
	q := NewQueue(100)
	assert.False(t, q.Enqueue(nil))
	assert.False(t, q.Enqueue([]byte{}))
	assert.Equal(t, 0, q.Len())
}

func TestQueueCloseWakesBlockedConsumer(t *testing.T) {
	q := NewQueue(100)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := q.Dequeue()
		assert.False(t, ok)
	}()

	time.Sleep(50 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer not woken by Close")
	}
}

func TestQueueCloseDrainsAcceptedChunks(t *testing.T) {
	q := NewQueue(100)
	require.True(t, q.Enqueue([]byte("kept")))
	q.Close()
	q.Close() // 幂等

	assert.False(t, q.Enqueue([]byte("late")))

	chunk, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "kept", string(chunk))

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestQueueConcurrentProducerConsumer(t *testing.T) {
	q := NewQueue(1 << 20)

	const chunks = 500
	var consumed int
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			_, ok := q.Dequeue()
			if !ok {
				return
			}
			consumed++
		}
	}()

	for i := 0; i < chunks; i++ {
		q.Enqueue([]byte{byte(i)})
	}
	q.Close()
	wg.Wait()

	assert.Equal(t, chunks, consumed)
	assert.Equal(t, int64(0), q.QueuedBytes())
}

// 不变量：保留字节总量永不超过预算，且出队顺序就是入队顺序。
func TestQueueBudgetInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		budget := rapid.Int64Range(1, 4096).Draw(t, "budget")
		q := NewQueue(budget)

		var expected [][]byte
		ops := rapid.IntRange(1, 200).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			if rapid.Bool().Draw(t, "dequeue") && len(expected) > 0 {
				chunk, ok := q.Dequeue()
				if !ok {
					t.Fatalf("dequeue failed with %d chunks retained", len(expected))
				}
				if string(chunk) != string(expected[0]) {
					t.Fatalf("order violated: got %q want %q", chunk, expected[0])
				}
				expected = expected[1:]
				continue
			}

			size := rapid.IntRange(1, 512).Draw(t, "size")
			chunk := make([]byte, size)
			chunk[0] = byte(i)
			if q.Enqueue(chunk) {
				expected = append(expected, chunk)
			}

			if q.QueuedBytes() > budget {
				t.Fatalf("retained %d bytes with budget %d", q.QueuedBytes(), budget)
			}
		}
	})
}
