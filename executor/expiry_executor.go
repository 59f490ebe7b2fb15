package executor

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

var _ Executor = new(ExpiryExecutor)

// ExpiryExecutor collects in-flight deliveries whose visibility timeout passed.
type ExpiryExecutor struct {
	queue      persistence.StageQueue
	handler    MessageHandler
	partitions PartitionSource
	interval   time.Duration
	wg         *sync.WaitGroup
	stop       chan struct{}
	tw         *util.TickWorker
}

func NewExpiryExecutor(queue persistence.StageQueue, handler MessageHandler, partitions PartitionSource,
	interval time.Duration, wg *sync.WaitGroup) *ExpiryExecutor {
	return &ExpiryExecutor{
		queue:      queue,
		handler:    handler,
		partitions: partitions,
		interval:   interval,
		wg:         wg,
		stop:       make(chan struct{}),
	}
}

func (ex *ExpiryExecutor) Name() string {
	return "expiry-executor"
}

func (ex *ExpiryExecutor) Start() error {
	ex.tw = util.NewTickWorker("expiry-worker", ex.interval, ex.stop, func() { ex.RunOnce(context.Background(), time.Now()) }, ex.wg)
	ex.tw.Start()
	return nil
}

func (ex *ExpiryExecutor) Stop() error {
	if ex.tw != nil && ex.tw.IsRunning() {
		ex.tw.Stop()
	}
	return nil
}

// RunOnce handles every delivery that expired before now and returns how many were seen.
func (ex *ExpiryExecutor) RunOnce(ctx context.Context, now time.Time) int {
	count := 0
	for _, partition := range ex.partitions.GetPartitions() {
		expired, err := ex.queue.Expired(ctx, partition, now)
		if err != nil {
			logger.Error("error while reading expired stage messages", zap.Int("partition", partition), zap.Error(err))
			continue
		}
		for _, d := range expired {
			count++
			if err := ex.handler.HandleExpired(ctx, d); err != nil {
				logger.Error("error handling expired stage message", zap.String("execution", d.Message.ExecutionId),
					zap.String("stage", d.Message.Stage), zap.Error(err))
			}
		}
	}
	return count
}
