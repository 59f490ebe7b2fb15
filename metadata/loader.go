package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Definitions is the content of a definitions file.
type Definitions struct {
	Operations   []*model.Operation  `yaml:"operations"`
	Stages       []*model.Stage      `yaml:"stages"`
	Workflows    []*model.Workflow   `yaml:"workflows"`
	SystemConfig *model.SystemConfig `yaml:"systemConfig"`
}

func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions file: %w", err)
	}
	return ParseDefinitions(data)
}

func ParseDefinitions(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	return &defs, nil
}

// Register installs the definitions leaves first. Definitions that already exist are kept,
// so loading the same file on every start is safe.
func (s *Service) Register(ctx context.Context, defs *Definitions) error {
	for _, op := range defs.Operations {
		if err := ignoreExisting(s.SaveOperation(ctx, op)); err != nil {
			return err
		}
	}
	for _, stage := range defs.Stages {
		if err := ignoreExisting(s.SaveStage(ctx, stage)); err != nil {
			return err
		}
	}
	for _, wf := range defs.Workflows {
		if err := ignoreExisting(s.SaveWorkflow(ctx, wf)); err != nil {
			return err
		}
	}
	if defs.SystemConfig != nil {
		if err := s.store.SaveSystemConfig(ctx, defs.SystemConfig); err != nil {
			return err
		}
	}
	logger.Info("definitions registered", zap.Int("operations", len(defs.Operations)),
		zap.Int("stages", len(defs.Stages)), zap.Int("workflows", len(defs.Workflows)))
	return nil
}

func ignoreExisting(err error) error {
	var ae persistence.AlreadyExistsError
	if errors.As(err, &ae) {
		logger.Debug("definition already registered", zap.String("kind", ae.Kind), zap.String("name", ae.Name))
		return nil
	}
	return err
}
