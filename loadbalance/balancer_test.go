package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartapp-rpc/discovery"
)

var testInstances = []discovery.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	var results []string
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances, "")
		require.NoError(t, err)
		results = append(results, inst.Addr)
	}
	assert.Equal(t, []string{":8001", ":8002", ":8003"}, results)

	// Pick again, should wrap around to first
	inst, err := b.Pick(testInstances, "")
	require.NoError(t, err)
	assert.Equal(t, results[0], inst.Addr)
}

func TestEmptyInstances(t *testing.T) {
	for _, name := range []string{"round_robin", "weighted_random", "consistent_hash"} {
		b, err := New(name)
		require.NoError(t, err)
		_, err = b.Pick([]discovery.ServiceInstance{}, "k")
		assert.ErrorIs(t, err, ErrNoInstances, b.Name())
	}
	_, err := New("fastest")
	assert.Error(t, err)
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances, "")
		require.NoError(t, err)
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	assert.True(t, ratio > 1.5 && ratio < 2.5, "weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick([]discovery.ServiceInstance{{Addr: ":1"}, {Addr: ":2"}}, "")
	require.NoError(t, err)
	assert.Contains(t, []string{":1", ":2"}, inst.Addr)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same instance
	inst1, err := b.Pick(testInstances, "chat-123")
	require.NoError(t, err)
	inst2, err := b.Pick(testInstances, "chat-123")
	require.NoError(t, err)
	assert.Equal(t, inst1.Addr, inst2.Addr)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, err := b.Pick(testInstances, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		seen[inst.Addr] = true
	}
	// With 100 different keys and 3 nodes, we should hit at least 2
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	inst, err := b.Pick(testInstances, "chat-1")
	require.NoError(t, err)

	var rest []discovery.ServiceInstance
	for _, s := range testInstances {
		if s.Addr != inst.Addr {
			rest = append(rest, s)
		}
	}
	moved, err := b.Pick(rest, "chat-1")
	require.NoError(t, err)
	assert.NotEqual(t, inst.Addr, moved.Addr)
}

func TestConsistentHashAdd(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testInstances {
		b.Add(&testInstances[i])
	}
	inst1, err := b.Pick(nil, "user-123")
	require.NoError(t, err)
	inst2, err := b.Pick(nil, "user-123")
	require.NoError(t, err)
	assert.Equal(t, inst1.Addr, inst2.Addr)
}
