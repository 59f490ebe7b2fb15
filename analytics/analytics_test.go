package analytics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogFileDataCollector(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "analytics.log")
	require.NoError(t, InitDataCollector(DataCollectorConfig{FileName: fileName, CollectorType: LOG_FILE_DATA_COLLECTOR}))
	t.Cleanup(func() { operationCollector = noopCollector{} })

	RecordOperationSuccess("transcode", "exec-1", "ingest", "probe", map[string]any{"duration": 12})
	RecordOperationFailure("transcode", "exec-1", "encode", "x264", "exit code 1")
	require.NoError(t, operationCollector.(*LogFileDataCollector).Sync())

	data, err := os.ReadFile(fileName)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"operation":"probe"`)
	require.Contains(t, lines[1], `"reason":"exit code 1"`)
}
