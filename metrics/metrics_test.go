package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	require.NoError(t, Register())
	t.Cleanup(Unregister)

	ctx := context.Background()
	RecordOperation(ctx, "transcode", "probe", "Complete", 20*time.Millisecond)
	RecordOperation(ctx, "transcode", "probe", "Complete", 40*time.Millisecond)
	RecordDeadLetter(ctx)

	snap := Snapshot()
	ops := snap["mediaflow/operations"]
	require.Len(t, ops, 1)
	require.Equal(t, int64(2), ops[0].Count)
	require.Equal(t, "probe", ops[0].Tags["operation"])

	latency := snap["mediaflow/operation_latency"]
	require.Len(t, latency, 1)
	require.InDelta(t, 30.0, latency[0].Mean, 0.001)

	require.Equal(t, int64(1), snap["mediaflow/dead_letters"][0].Count)
}
