package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"copilot/internal/model"
)

func TestMemoryReplaceCopies(t *testing.T) {
	m := NewMemory()
	assert.NotNil(t, m.Events())
	assert.True(t, m.UpdatedAt().IsZero())

	in := []model.Event{{ID: "a"}, {ID: "b"}}
	at := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m.Replace(in, at)

	in[0].ID = "mutated"
	got := m.Events()
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, at, m.UpdatedAt())

	got[1].ID = "also mutated"
	assert.Equal(t, "b", m.Events()[1].ID)

	m.Replace(nil, at)
	assert.NotNil(t, m.Events())
	assert.Empty(t, m.Events())
}

func TestMemoryConcurrentReadersSeeWholeSets(t *testing.T) {
	m := NewMemory()
	setA := []model.Event{{ID: "a1"}, {ID: "a2"}}
	setB := []model.Event{{ID: "b1"}, {ID: "b2"}, {ID: "b3"}}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.Replace(setA, time.Now())
			} else {
				m.Replace(setB, time.Now())
			}
		}(i)
		go func() {
			defer wg.Done()
			got := m.Events()
			assert.Contains(t, []int{0, 2, 3}, len(got))
		}()
	}
	wg.Wait()
}
