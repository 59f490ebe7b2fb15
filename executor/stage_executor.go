package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/mohitkumar/mediaflow/config"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

var _ Executor = new(StageExecutor)

// StageExecutor polls the stage queue of the owned partitions and hands each delivery to a
// pool of workers. A delivery is acked only after its handler returns nil.
type StageExecutor struct {
	queue      persistence.StageQueue
	handler    MessageHandler
	partitions PartitionSource
	conf       config.EngineConfig
	wg         *sync.WaitGroup
	stop       chan struct{}
	tw         *util.TickWorker
	worker     *util.Worker
}

func NewStageExecutor(queue persistence.StageQueue, handler MessageHandler, partitions PartitionSource,
	conf config.EngineConfig, wg *sync.WaitGroup) *StageExecutor {
	return &StageExecutor{
		queue:      queue,
		handler:    handler,
		partitions: partitions,
		conf:       conf,
		wg:         wg,
		stop:       make(chan struct{}),
	}
}

func (ex *StageExecutor) Name() string {
	return "stage-executor"
}

func (ex *StageExecutor) Start() error {
	ex.worker = util.NewWorker("stage-worker", ex.wg, ex.handle, ex.conf.BatchSize*ex.conf.Workers, ex.conf.Workers)
	ex.worker.Start()
	ex.tw = util.NewTickWorker("stage-poller", ex.conf.PollInterval, ex.stop, ex.poll, ex.wg)
	ex.tw.Start()
	logger.Info("stage executor started", zap.Int("workers", ex.conf.Workers))
	return nil
}

func (ex *StageExecutor) Stop() error {
	if ex.tw != nil && ex.tw.IsRunning() {
		ex.tw.Stop()
	}
	if ex.worker != nil {
		ex.worker.Stop()
	}
	return nil
}

// Trigger polls ahead of the next tick.
func (ex *StageExecutor) Trigger() {
	if ex.tw != nil {
		ex.tw.Trigger()
	}
}

func (ex *StageExecutor) poll() {
	ctx := context.Background()
	for _, partition := range ex.partitions.GetPartitions() {
		deliveries, err := ex.queue.Poll(ctx, partition, ex.conf.BatchSize, ex.conf.VisibilityTimeout)
		if err != nil {
			logger.Error("error while polling stage queue", zap.Int("partition", partition), zap.Error(err))
			continue
		}
		for _, d := range deliveries {
			ex.worker.Sender() <- d
		}
	}
}

func (ex *StageExecutor) handle(task util.Task) error {
	delivery, ok := task.(*model.Delivery)
	if !ok {
		return fmt.Errorf("can not handle task of type other than *model.Delivery")
	}
	ctx := context.Background()
	msg := delivery.Message
	if err := ex.handler.Handle(ctx, msg); err != nil {
		logger.Error("error handling stage message, left for redelivery", zap.String("execution", msg.ExecutionId),
			zap.String("stage", msg.Stage), zap.String("kind", string(msg.Kind)), zap.Error(err))
		return nil
	}
	return ex.queue.Ack(ctx, delivery)
}
