package batch

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/wvb/internal/models"
)

func testObject(id string) *models.BatchObject {
	return &models.BatchObject{
		ID:         id,
		Class:      "Article",
		Properties: map[string]interface{}{"title": "title " + id},
	}
}

func TestBuffer_AddAndCount(t *testing.T) {
	buf := newBuffer[*models.BatchObject](0)

	count, bytes, err := buf.add(testObject("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Positive(t, bytes)

	count, bytes2, err := buf.add(testObject("b"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Greater(t, bytes2, bytes)
	assert.Equal(t, 2, buf.count())
	assert.Equal(t, bytes2, buf.byteSize())
}

func TestBuffer_DrainAllFIFO(t *testing.T) {
	buf := newBuffer[*models.BatchObject](0)
	for i := 0; i < 5; i++ {
		_, _, err := buf.add(testObject(fmt.Sprintf("obj-%d", i)))
		require.NoError(t, err)
	}

	items := buf.drainAll()
	require.Len(t, items, 5)
	for i, item := range items {
		assert.Equal(t, fmt.Sprintf("obj-%d", i), item.ID)
	}
	assert.Equal(t, 0, buf.count())
	assert.Equal(t, int64(0), buf.byteSize())
	assert.Empty(t, buf.drainAll())
}

func TestBuffer_CapacityExceeded(t *testing.T) {
	buf := newBuffer[*models.BatchObject](2)
	_, _, err := buf.add(testObject("a"))
	require.NoError(t, err)
	_, _, err = buf.add(testObject("b"))
	require.NoError(t, err)

	count, _, err := buf.add(testObject("c"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, count)

	buf.drainAll()
	_, _, err = buf.add(testObject("c"))
	assert.NoError(t, err)
}

func TestBuffer_ConcurrentAddDrain(t *testing.T) {
	buf := newBuffer[*models.BatchObject](0)
	const writers, perWriter = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, _, _ = buf.add(testObject(fmt.Sprintf("%d-%d", w, i)))
			}
		}(w)
	}

	seen := make(map[string]int)
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			for _, item := range buf.drainAll() {
				mu.Lock()
				seen[item.ID]++
				mu.Unlock()
			}
		}
	}()

	wg.Wait()
	<-done
	for _, item := range buf.drainAll() {
		seen[item.ID]++
	}

	assert.Len(t, seen, writers*perWriter)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s drained more than once", id)
	}
}
