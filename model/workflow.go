package model

const MEDIA_TYPE_METADATA_ONLY = "MetadataOnly"

const CONFIG_ENABLED = "Enabled"
const CONFIG_MEDIA_TYPE = "MediaType"

type Operation struct {
	Name           string         `json:"name" yaml:"name"`
	MediaType      string         `json:"mediaType" yaml:"mediaType"`
	IsAsync        bool           `json:"isAsync" yaml:"isAsync"`
	Configuration  map[string]any `json:"configuration" yaml:"configuration"`
	StartHandler   string         `json:"startHandler" yaml:"startHandler"`
	MonitorHandler string         `json:"monitorHandler,omitempty" yaml:"monitorHandler"`
	Optional       bool           `json:"optional" yaml:"optional"`
	TimeoutSeconds int            `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type Stage struct {
	Name       string   `json:"name" yaml:"name"`
	Operations []string `json:"operations" yaml:"operations"`
}

type Workflow struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Stages      []string `json:"stages" yaml:"stages"`
}

// NextStage returns the stage following current, or END when current is the last one.
func (wf *Workflow) NextStage(current string) string {
	for i, s := range wf.Stages {
		if s == current {
			if i+1 < len(wf.Stages) {
				return wf.Stages[i+1]
			}
			return END_STAGE
		}
	}
	return END_STAGE
}

func (wf *Workflow) HasStage(name string) bool {
	for _, s := range wf.Stages {
		if s == name {
			return true
		}
	}
	return false
}

type SystemConfig struct {
	MaxConcurrentWorkflows int `json:"maxConcurrentWorkflows" yaml:"maxConcurrentWorkflows"`
}
