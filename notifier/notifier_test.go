package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

func TestNewChangeEvent(t *testing.T) {
	created := &model.WorkflowExecution{Id: "e1", AssetId: "a1", Workflow: "w", Status: model.EXECUTION_STATUS_QUEUED}
	event := NewChangeEvent(nil, created)
	require.NotNil(t, event)
	require.Equal(t, model.ExecutionStatus(""), event.OldStatus)
	require.Equal(t, model.EXECUTION_STATUS_QUEUED, event.NewStatus)

	same := *created
	same.Version = 1
	require.Nil(t, NewChangeEvent(created, &same))

	started := *created
	started.Status = model.EXECUTION_STATUS_STARTED
	event = NewChangeEvent(created, &started)
	require.Equal(t, model.EXECUTION_STATUS_QUEUED, event.OldStatus)
	require.Equal(t, model.EXECUTION_STATUS_STARTED, event.NewStatus)
}

func TestNotifierPublishesEveryStatusChange(t *testing.T) {
	wg := &sync.WaitGroup{}
	pub := NewMemoryPublisher()
	n := NewNotifier(wg, 16, pub)
	require.NoError(t, n.Start())

	store := memory.NewExecutionStore(n)
	ctx := context.Background()
	exec := &model.WorkflowExecution{
		Id:           "e1",
		AssetId:      "a1",
		Workflow:     "w",
		Status:       model.EXECUTION_STATUS_QUEUED,
		CurrentStage: "s1",
		CreatedAt:    time.Now().UTC(),
	}
	_, err := store.Create(ctx, exec)
	require.NoError(t, err)
	admitted, err := store.Admit(ctx, "e1", 0, 5)
	require.NoError(t, err)
	admitted.Message = "no status change"
	updated, err := store.Update(ctx, admitted)
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, "e1", updated.Version, model.EXECUTION_STATUS_ERROR, model.END_STAGE, "boom")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.Events()) == 3 }, time.Second, 5*time.Millisecond)
	events := pub.Events()
	require.Equal(t, model.EXECUTION_STATUS_QUEUED, events[0].NewStatus)
	require.Equal(t, model.EXECUTION_STATUS_STARTED, events[1].NewStatus)
	require.Equal(t, model.EXECUTION_STATUS_STARTED, events[2].OldStatus)
	require.Equal(t, model.EXECUTION_STATUS_ERROR, events[2].NewStatus)
	require.Equal(t, int64(3), events[2].Version)

	require.NoError(t, n.Stop())
	wg.Wait()
}
