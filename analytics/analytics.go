package analytics

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const NOOP_DATA_COLLECTOR DataCollectorType = "NOOP_DATA_COLLECTOR"

// OperationDataCollector records the outcome of every operation the engine runs.
type OperationDataCollector interface {
	RecordOperationSuccess(wfName string, executionId string, stage string, operation string, data map[string]any)
	RecordOperationFailure(wfName string, executionId string, stage string, operation string, reason string)
}

type noopCollector struct{}

func (noopCollector) RecordOperationSuccess(wfName string, executionId string, stage string, operation string, data map[string]any) {
}
func (noopCollector) RecordOperationFailure(wfName string, executionId string, stage string, operation string, reason string) {
}

var operationCollector OperationDataCollector = noopCollector{}

func InitDataCollector(config DataCollectorConfig) error {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		c, err := NewLogFileDataCollector(config.FileName)
		if err != nil {
			return err
		}
		operationCollector = c
	default:
		operationCollector = noopCollector{}
	}
	return nil
}

func RecordOperationSuccess(wfName string, executionId string, stage string, operation string, data map[string]any) {
	operationCollector.RecordOperationSuccess(wfName, executionId, stage, operation, data)
}

func RecordOperationFailure(wfName string, executionId string, stage string, operation string, reason string) {
	operationCollector.RecordOperationFailure(wfName, executionId, stage, operation, reason)
}
