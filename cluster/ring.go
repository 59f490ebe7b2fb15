package cluster

import (
	"sort"
	"sync"

	"github.com/buraksezer/consistent"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

type hasher struct {
}

func NewHasher() *hasher {
	return &hasher{}
}

func (h hasher) Sum64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

type RingConfig struct {
	PartitionCount int
	LocalName      string
	LocalAddr      string
}

// Ring maps execution ids to stage queue partitions and partitions to cluster nodes.
type Ring struct {
	RingConfig
	hring     *consistent.Consistent
	nodes     map[string]Node
	localNode Node
	mu        sync.Mutex
}

var _ persistence.Partitioner = new(Ring)

type Node struct {
	name string
	addr string
}

func (n Node) String() string {
	return n.name
}

func (n Node) Addr() string {
	return n.addr
}

func NewRing(c RingConfig) *Ring {
	if c.PartitionCount < 1 {
		c.PartitionCount = 1
	}
	cfg := consistent.Config{
		PartitionCount:    c.PartitionCount,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            NewHasher(),
	}
	local := Node{name: c.LocalName, addr: c.LocalAddr}
	r := &Ring{
		RingConfig: c,
		hring:      consistent.New([]consistent.Member{local}, cfg),
		nodes:      map[string]Node{local.name: local},
		localNode:  local,
	}
	logger.Info("local member joined ring", zap.String("node", local.name), zap.Int("partitions", c.PartitionCount))
	return r
}

func (r *Ring) Join(name, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[name]; ok {
		return nil
	}
	logger.Info("adding member to cluster", zap.String("node", name), zap.String("address", addr))
	node := Node{name: name, addr: addr}
	r.nodes[name] = node
	r.hring.Add(node)
	return nil
}

func (r *Ring) Leave(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == r.localNode.name {
		return nil
	}
	logger.Info("removing member from cluster", zap.String("node", name))
	delete(r.nodes, name)
	r.hring.Remove(name)
	return nil
}

func (r *Ring) GetPartition(key string) int {
	return r.hring.FindPartitionID([]byte(key))
}

func (r *Ring) PartitionCount() int {
	return r.RingConfig.PartitionCount
}

// GetPartitions returns the partitions owned by the local node in random order.
func (r *Ring) GetPartitions() []int {
	partitions := make([]int, 0)
	for i := 0; i < r.RingConfig.PartitionCount; i++ {
		owner := r.hring.GetPartitionOwner(i)
		if owner.String() == r.localNode.name {
			partitions = append(partitions, i)
		}
	}
	util.Shuffle(partitions)
	return partitions
}

func (r *Ring) Nodes() []Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].name < res[j].name })
	return res
}
