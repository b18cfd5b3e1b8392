package alias

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateIsStable(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, 1, r.Allocate("bjorn"))
	assert.Equal(t, 2, r.Allocate("bjorn-2"))
	assert.Equal(t, 1, r.Allocate("bjorn"))
	assert.Equal(t, 2, r.Allocate("bjorn-2"))
}

func TestAllocateIsInjective(t *testing.T) {
	r := NewRegistry()

	seen := make(map[int]string)

	for i := 0; i < 100; i++ {
		identity := fmt.Sprintf("bjorn-%d", i)
		n := r.Allocate(identity)

		prev, taken := seen[n]
		require.Falsef(t, taken, "alias %d assigned to both %s and %s", n, prev, identity)
		seen[n] = identity
	}
}

func TestSeedRaisesHighWaterOnly(t *testing.T) {
	r := NewRegistry()
	r.Seed(41)

	assert.Equal(t, 42, r.Allocate("bjorn"))

	// Seeding below the current mark is a no-op.
	r.Seed(3)
	assert.Equal(t, 43, r.Allocate("bjorn-2"))
}

func TestRestoreKeepsExistingMappings(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, 1, r.Allocate("bjorn"))

	r.Restore(map[string]int{
		"bjorn":   9, // in-memory mapping wins
		"bjorn-2": 7,
	})

	assert.Equal(t, 1, r.Allocate("bjorn"))
	assert.Equal(t, 7, r.Allocate("bjorn-2"))
	// High-water absorbed the restored values.
	assert.Equal(t, 10, r.Allocate("bjorn-3"))
}

func TestConcurrentAllocate(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup

	results := make([]int, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			results[i] = r.Allocate(fmt.Sprintf("bjorn-%d", i%10))
		}(i)
	}

	wg.Wait()

	// Ten distinct identities, so exactly the aliases 1..10 in some order.
	distinct := make(map[int]struct{})
	for _, n := range results {
		distinct[n] = struct{}{}
	}

	assert.Len(t, distinct, 10)

	for n := range distinct {
		assert.GreaterOrEqual(t, n, 1)
		assert.LessOrEqual(t, n, 10)
	}
}
