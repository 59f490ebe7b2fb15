package memory

import (
	"testing"

	"github.com/mohitkumar/mediaflow/persistence/storetest"
)

func TestMemoryStores(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Stores {
		return storetest.Stores{
			Definitions: NewDefinitionStore(10),
			Executions:  NewExecutionStore(nil),
			Assets:      NewAssetStore(),
			Queue:       NewStageQueue(nil),
		}
	})
}
