package child

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/domain"
)

func newTestInstances(n int) []*instance {
	instances := make([]*instance, n)
	for i := range instances {
		instances[i] = newInstance("srv", i, zap.NewNop())
	}
	return instances
}

func TestPool_RoundRobinFairness(t *testing.T) {
	const n = 4
	const calls = 37 // not a multiple of n, exercises the ±1 share tolerance

	p := newPool("srv", domain.ServerConfig{}, newTestInstances(n))

	counts := make(map[int]int)
	for i := 0; i < calls; i++ {
		picked := p.pick()
		counts[picked.index]++
	}

	expected := calls / n
	for idx, count := range counts {
		diff := count - expected
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, 1, "instance %d got %d calls, expected ~%d", idx, count, expected)
	}
}

func TestPool_AllIdleSince(t *testing.T) {
	p := newPool("srv", domain.ServerConfig{}, newTestInstances(2))
	for _, in := range p.instances {
		in.lastUsedNano.Store(time.Now().Add(-time.Hour).UnixNano())
	}

	assert.True(t, p.allIdleSince(time.Now().Add(-time.Minute)))

	p.instances[0].touch()
	assert.False(t, p.allIdleSince(time.Now().Add(-time.Minute)))
}
