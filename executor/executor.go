package executor

import (
	"context"
	"sync"

	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"go.uber.org/zap"
)

type Executor interface {
	Start() error
	Stop() error
	Name() string
}

// MessageHandler processes stage messages handed out by the queue.
type MessageHandler interface {
	Handle(ctx context.Context, msg *model.StageMessage) error
	HandleExpired(ctx context.Context, delivery *model.Delivery) error
}

// PartitionSource lists the queue partitions this node consumes.
type PartitionSource interface {
	GetPartitions() []int
}

type allPartitions int

func (n allPartitions) GetPartitions() []int {
	res := make([]int, 0, int(n))
	for i := 0; i < int(n); i++ {
		res = append(res, i)
	}
	return res
}

// AllPartitions consumes every partition in [0, count).
func AllPartitions(count int) PartitionSource {
	if count < 1 {
		count = 1
	}
	return allPartitions(count)
}

type Executors struct {
	executors []Executor
	mu        sync.Mutex
	started   int
}

func NewExecutors(executors ...Executor) *Executors {
	return &Executors{executors: executors}
}

func (ex *Executors) StartAll() error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	logger.Info("starting all executors")
	for _, e := range ex.executors[ex.started:] {
		if err := e.Start(); err != nil {
			return err
		}
		ex.started++
	}
	return nil
}

// StopAll stops started executors in reverse start order.
func (ex *Executors) StopAll() error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	logger.Info("stoping all executors")
	for ; ex.started > 0; ex.started-- {
		e := ex.executors[ex.started-1]
		if err := e.Stop(); err != nil {
			logger.Error("error stopping executor", zap.String("executor", e.Name()), zap.Error(err))
		}
	}
	return nil
}
