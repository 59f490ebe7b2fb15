package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

// Publisher delivers change events to one external sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event *model.ChangeEvent) error
}

// Notifier turns committed execution status changes into ChangeEvents and fans them out to
// its publishers from a worker goroutine, so committing callers never wait on a sink.
type Notifier struct {
	publishers []Publisher
	worker     *util.Worker
	timeout    time.Duration
	done       chan struct{}
	stopOnce   sync.Once
}

var _ persistence.ChangeListener = new(Notifier)

func NewNotifier(wg *sync.WaitGroup, capacity int, publishers ...Publisher) *Notifier {
	if capacity < 1 {
		capacity = 1024
	}
	n := &Notifier{
		publishers: publishers,
		timeout:    5 * time.Second,
		done:       make(chan struct{}),
	}
	n.worker = util.NewWorker("change-notifier", wg, n.handle, capacity, 1)
	return n
}

func (n *Notifier) Name() string {
	return "change-notifier"
}

func (n *Notifier) Start() error {
	n.worker.Start()
	return nil
}

func (n *Notifier) Stop() error {
	n.stopOnce.Do(func() {
		close(n.done)
		n.worker.Stop()
	})
	return nil
}

// OnCommit queues an event when the committed mutation changed the execution status.
func (n *Notifier) OnCommit(old *model.WorkflowExecution, updated *model.WorkflowExecution) {
	event := NewChangeEvent(old, updated)
	if event == nil {
		return
	}
	select {
	case n.worker.Sender() <- event:
	case <-n.done:
		logger.Warn("notifier stopped, dropping change event", zap.String("execution", event.ExecutionId),
			zap.String("status", string(event.NewStatus)))
	}
}

// NewChangeEvent returns nil when the status did not change.
func NewChangeEvent(old *model.WorkflowExecution, updated *model.WorkflowExecution) *model.ChangeEvent {
	var oldStatus model.ExecutionStatus
	if old != nil {
		oldStatus = old.Status
	}
	if oldStatus == updated.Status {
		return nil
	}
	return &model.ChangeEvent{
		ExecutionId: updated.Id,
		AssetId:     updated.AssetId,
		Workflow:    updated.Workflow,
		OldStatus:   oldStatus,
		NewStatus:   updated.Status,
		Version:     updated.Version,
		Timestamp:   updated.UpdatedAt,
	}
}

func (n *Notifier) handle(task util.Task) error {
	event, ok := task.(*model.ChangeEvent)
	if !ok {
		return fmt.Errorf("can not handle task of type %T", task)
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	for _, p := range n.publishers {
		if err := p.Publish(ctx, event); err != nil {
			logger.Error("error publishing change event", zap.String("publisher", p.Name()),
				zap.String("execution", event.ExecutionId), zap.Error(err))
		}
	}
	return nil
}
