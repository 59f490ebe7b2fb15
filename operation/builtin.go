package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/dop251/goja"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

const CONFIG_SCRIPT = "Script"
const CONFIG_MAPPING = "Mapping"

type javascriptHandler struct {
}

func NewJavascriptHandler() Handler {
	return StartFunc(javascriptHandler{}.Start)
}

// Start evaluates the configured script with $ bound to the operation input. Keys of
// $.MetaData that the script added or changed become the operation's metadata.
func (javascriptHandler) Start(ctx context.Context, req *Request) (*Result, error) {
	script, _ := req.Configuration[CONFIG_SCRIPT].(string)
	if len(script) == 0 {
		return nil, fmt.Errorf("operation %s: %s can not be empty", req.Operation, CONFIG_SCRIPT)
	}
	logger.Debug("running script", zap.String("operation", req.Operation), zap.String("execution", req.ExecutionId))
	input := req.Input.AsMap()
	input["Configuration"] = req.Configuration
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	vm := goja.New()
	if _, err := vm.RunString(fmt.Sprintf("var $ = %s;\n%s", data, script)); err != nil {
		return Failed(fmt.Sprintf("error executing javascript %s", err.Error())), nil
	}
	val, err := vm.RunString("$.MetaData")
	if err != nil {
		return Failed(fmt.Sprintf("error executing javascript %s", err.Error())), nil
	}
	out, err := normalize(val.Export())
	if err != nil {
		return nil, err
	}
	before, err := normalize(req.Input.MetaData)
	if err != nil {
		return nil, err
	}
	metaData := make(map[string]any)
	for k, v := range out {
		if prev, ok := before[k]; ok && reflect.DeepEqual(prev, v) {
			continue
		}
		metaData[k] = v
	}
	return Done(metaData), nil
}

func normalize(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	res := make(map[string]any)
	if string(data) == "null" {
		return res, nil
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// NewJsonMapperHandler resolves the {$.path} tokens of the configured mapping against the input.
func NewJsonMapperHandler() Handler {
	return StartFunc(func(ctx context.Context, req *Request) (*Result, error) {
		mapping, ok := req.Configuration[CONFIG_MAPPING].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("operation %s: %s must be an object", req.Operation, CONFIG_MAPPING)
		}
		return Done(util.ResolveParams(req.Input.AsMap(), mapping)), nil
	})
}

func NewNoopHandler() Handler {
	return StartFunc(func(ctx context.Context, req *Request) (*Result, error) {
		return Done(nil), nil
	})
}
