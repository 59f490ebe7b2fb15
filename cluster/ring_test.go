package cluster

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	r := NewRing(RingConfig{PartitionCount: 16, LocalName: "node-a", LocalAddr: "10.0.0.1:8080"})

	local := r.GetPartitions()
	sort.Ints(local)
	require.Len(t, local, 16)
	require.Equal(t, 0, local[0])
	require.Equal(t, 15, local[15])

	p := r.GetPartition("execution-1")
	require.GreaterOrEqual(t, p, 0)
	require.Less(t, p, r.PartitionCount())
	require.Equal(t, p, r.GetPartition("execution-1"))

	require.NoError(t, r.Join("node-b", "10.0.0.2:8080"))
	require.NoError(t, r.Join("node-b", "10.0.0.2:8080"))
	require.Len(t, r.Nodes(), 2)
	require.Equal(t, "node-a", r.Nodes()[0].String())
	require.Equal(t, "10.0.0.2:8080", r.Nodes()[1].Addr())

	owned := r.GetPartitions()
	require.Less(t, len(owned), 16)
	remote := 0
	for i := 0; i < 16; i++ {
		if r.hring.GetPartitionOwner(i).String() == "node-b" {
			remote++
		}
	}
	require.Equal(t, 16, len(owned)+remote)
	// partition of a key does not depend on membership
	require.Equal(t, p, r.GetPartition("execution-1"))

	require.NoError(t, r.Leave("node-a"))
	require.NoError(t, r.Leave("node-b"))
	require.Len(t, r.Nodes(), 1)
	require.Len(t, r.GetPartitions(), 16)
}

func TestRingDefaultsToOnePartition(t *testing.T) {
	r := NewRing(RingConfig{LocalName: "solo"})
	require.Equal(t, 1, r.PartitionCount())
	require.Equal(t, []int{0}, r.GetPartitions())
	require.Equal(t, 0, r.GetPartition("anything"))
}
