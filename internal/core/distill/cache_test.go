package distill

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/loom/internal/core/model"
)

func TestKeyStableAndDistinct(t *testing.T) {
	md := map[string]string{"path": "a.txt", "language": "en"}
	assert.Equal(t, Key("same text", md), Key("same text", map[string]string{"language": "en", "path": "a.txt"}))
	assert.NotEqual(t, Key("same text", md), Key("other text", md))
	assert.NotEqual(t, Key("same text", md), Key("same text", nil))
}

func TestCacheEvictsOldestFirst(t *testing.T) {
	c := NewCache(2)
	c.Put("k1", &model.DistilledMoment{Summary: "one"})
	c.Put("k2", &model.DistilledMoment{Summary: "two"})
	c.Put("k3", &model.DistilledMoment{Summary: "three"})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestCacheDoRunsOnceAcrossConcurrentCallers(t *testing.T) {
	c := NewCache(0)
	var calls int64

	fn := func() (*model.DistilledMoment, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return &model.DistilledMoment{Summary: "shared"}, nil
	}

	var wg sync.WaitGroup
	results := make([]*model.DistilledMoment, 8)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := c.Do("hot-key", fn)
			require.NoError(t, err)
			results[i] = m
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for _, m := range results {
		assert.Equal(t, "shared", m.Summary)
	}
}

func TestCacheDoDoesNotCacheErrors(t *testing.T) {
	c := NewCache(0)
	attempts := 0

	_, err := c.Do("k", func() (*model.DistilledMoment, error) {
		attempts++
		return nil, fmt.Errorf("inference down")
	})
	require.Error(t, err)

	m, err := c.Do("k", func() (*model.DistilledMoment, error) {
		attempts++
		return &model.DistilledMoment{Summary: "recovered"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", m.Summary)
	assert.Equal(t, 2, attempts)
}

func TestCacheDoServesFromCacheWithoutCalling(t *testing.T) {
	c := NewCache(0)
	c.Put("k", &model.DistilledMoment{Summary: "cached"})

	m, err := c.Do("k", func() (*model.DistilledMoment, error) {
		t.Fatal("must not be called")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", m.Summary)
}
