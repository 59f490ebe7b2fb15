package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/operation"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

const definitionsYaml = `
operations:
  - name: probe
    mediaType: Video
    startHandler: jsonmapper
    configuration:
      Mapping:
        duration: "{$.Media.video.duration}"
  - name: transcode
    mediaType: Video
    isAsync: true
    startHandler: https://ops.example.com/transcode
    monitorHandler: https://ops.example.com/transcode
    timeoutSeconds: 3600
stages:
  - name: ingest
    operations: [probe]
  - name: encode
    operations: [transcode]
workflows:
  - name: publish
    description: probe then encode
    stages: [ingest, encode]
systemConfig:
  maxConcurrentWorkflows: 3
`

func newService() *Service {
	return NewMetadataService(memory.NewDefinitionStore(10), operation.NewRegistry(nil))
}

func TestLoadDefinitions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "definitions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitionsYaml), 0o600))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs.Operations, 2)
	require.True(t, defs.Operations[1].IsAsync)
	require.Equal(t, 3600, defs.Operations[1].TimeoutSeconds)

	s := newService()
	require.NoError(t, s.Register(ctx, defs))
	// registering again keeps the stored definitions
	require.NoError(t, s.Register(ctx, defs))

	wf, err := s.GetStore().GetWorkflow(ctx, "publish")
	require.NoError(t, err)
	require.Equal(t, []string{"ingest", "encode"}, wf.Stages)
	require.Equal(t, "encode", wf.NextStage("ingest"))
	require.Equal(t, model.END_STAGE, wf.NextStage("encode"))

	op, err := s.GetStore().GetOperation(ctx, "probe")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"duration": "{$.Media.video.duration}"}, op.Configuration["Mapping"])

	sysConf, err := s.GetStore().GetSystemConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, sysConf.MaxConcurrentWorkflows)

	_, err = LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	_, err = ParseDefinitions([]byte("operations: {"))
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s := newService()
	require.NoError(t, s.SaveOperation(ctx, &model.Operation{Name: "probe", StartHandler: operation.HANDLER_NOOP}))
	require.NoError(t, s.SaveStage(ctx, &model.Stage{Name: "ingest", Operations: []string{"probe"}}))

	for scenario, fn := range map[string]func() error{
		"operation without name": func() error {
			return s.SaveOperation(ctx, &model.Operation{StartHandler: operation.HANDLER_NOOP})
		},
		"operation with unknown handler": func() error {
			return s.SaveOperation(ctx, &model.Operation{Name: "x", StartHandler: "unknown"})
		},
		"async operation without monitor": func() error {
			return s.SaveOperation(ctx, &model.Operation{Name: "x", StartHandler: operation.HANDLER_NOOP, IsAsync: true})
		},
		"negative timeout": func() error {
			return s.SaveOperation(ctx, &model.Operation{Name: "x", StartHandler: operation.HANDLER_NOOP, TimeoutSeconds: -1})
		},
		"stage with reserved name": func() error {
			return s.SaveStage(ctx, &model.Stage{Name: model.END_STAGE})
		},
		"stage with unknown operation": func() error {
			return s.SaveStage(ctx, &model.Stage{Name: "encode", Operations: []string{"transcode"}})
		},
		"stage listing an operation twice": func() error {
			return s.SaveStage(ctx, &model.Stage{Name: "encode", Operations: []string{"probe", "probe"}})
		},
		"workflow without stages": func() error {
			return s.SaveWorkflow(ctx, &model.Workflow{Name: "publish"})
		},
		"workflow with unknown stage": func() error {
			return s.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest", "encode"}})
		},
		"workflow listing a stage twice": func() error {
			return s.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest", "ingest"}})
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			require.Error(t, fn())
		})
	}

	require.NoError(t, s.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest"}}))
	err := s.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest"}})
	var ae persistence.AlreadyExistsError
	require.ErrorAs(t, err, &ae)
}

func TestDeleteDefinitions(t *testing.T) {
	ctx := context.Background()
	s := newService()
	for _, name := range []string{"probe", "thumbnail", "unused"} {
		require.NoError(t, s.SaveOperation(ctx, &model.Operation{Name: name, StartHandler: operation.HANDLER_NOOP}))
	}
	require.NoError(t, s.SaveStage(ctx, &model.Stage{Name: "ingest", Operations: []string{"probe", "thumbnail"}}))
	require.NoError(t, s.SaveStage(ctx, &model.Stage{Name: "preview", Operations: []string{"thumbnail"}}))
	require.NoError(t, s.SaveWorkflow(ctx, &model.Workflow{Name: "publish", Stages: []string{"ingest"}}))
	require.NoError(t, s.SaveWorkflow(ctx, &model.Workflow{Name: "archive", Stages: []string{"preview"}}))

	wfs, err := s.WorkflowsUsingOperation(ctx, "thumbnail")
	require.NoError(t, err)
	require.Len(t, wfs, 2)
	wfs, err = s.WorkflowsUsingOperation(ctx, "probe")
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	require.Equal(t, "publish", wfs[0].Name)
	wfs, err = s.WorkflowsUsingStage(ctx, "preview")
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	require.Equal(t, "archive", wfs[0].Name)

	err = s.DeleteOperation(ctx, "thumbnail", false)
	var inUse InUseError
	require.ErrorAs(t, err, &inUse)
	require.Equal(t, []string{"stage ingest", "stage preview"}, inUse.Dependents)
	_, err = s.GetStore().GetOperation(ctx, "thumbnail")
	require.NoError(t, err)

	err = s.DeleteStage(ctx, "ingest", false)
	require.True(t, IsInUse(err))
	require.Contains(t, err.Error(), "workflow publish")

	require.NoError(t, s.DeleteOperation(ctx, "unused", false))
	require.True(t, persistence.IsNotFound(s.DeleteOperation(ctx, "unused", false)))
	require.True(t, persistence.IsNotFound(s.DeleteStage(ctx, "missing", true)))

	// forced deletes keep the dependents
	require.NoError(t, s.DeleteStage(ctx, "ingest", true))
	_, err = s.GetStore().GetWorkflow(ctx, "publish")
	require.NoError(t, err)
	require.NoError(t, s.DeleteOperation(ctx, "thumbnail", true))
	_, err = s.GetStore().GetStage(ctx, "preview")
	require.NoError(t, err)

	require.NoError(t, s.DeleteWorkflow(ctx, "archive"))
	require.NoError(t, s.DeleteStage(ctx, "preview", false))
	require.True(t, persistence.IsNotFound(s.DeleteWorkflow(ctx, "archive")))
}
