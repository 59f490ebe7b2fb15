package operation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/stretchr/testify/require"
)

func videoInput() model.Globals {
	g := model.NewGlobals(map[string]any{
		"video": map[string]any{"duration": 10, "width": 1920},
	})
	g.MetaData["title"] = "trailer"
	return g
}

func TestJavascriptHandler(t *testing.T) {
	ctx := context.Background()
	h := NewJavascriptHandler()

	res, err := h.Start(ctx, &Request{
		Operation: "double-duration",
		Input:     videoInput(),
		Configuration: map[string]any{
			CONFIG_SCRIPT: "$.MetaData.doubled = $.Media.video.duration * 2; $.MetaData.title = 'trailer';",
		},
	})
	require.NoError(t, err)
	require.Equal(t, RESULT_STATUS_DONE, res.Status)
	require.Equal(t, map[string]any{"doubled": float64(20)}, res.MetaData)

	res, err = h.Start(ctx, &Request{
		Operation:     "broken",
		Input:         videoInput(),
		Configuration: map[string]any{CONFIG_SCRIPT: "$.MetaData.x = ;"},
	})
	require.NoError(t, err)
	require.Equal(t, RESULT_STATUS_FAILED, res.Status)
	require.Contains(t, res.Message, "error executing javascript")

	_, err = h.Start(ctx, &Request{Operation: "empty", Input: videoInput(), Configuration: map[string]any{}})
	require.Error(t, err)

	res, err = h.Monitor(ctx, &Request{Operation: "double-duration"}, "ref")
	require.NoError(t, err)
	require.Equal(t, RESULT_STATUS_FAILED, res.Status)
}

func TestJsonMapperHandler(t *testing.T) {
	ctx := context.Background()
	h := NewJsonMapperHandler()

	res, err := h.Start(ctx, &Request{
		Operation: "map",
		Input:     videoInput(),
		Configuration: map[string]any{
			CONFIG_MAPPING: map[string]any{
				"width":  "{$.Media.video.width}",
				"label":  "{$.MetaData.title} at {$.Media.video.width}",
				"static": "unchanged",
				"nested": map[string]any{"title": "{$.MetaData.title}"},
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, RESULT_STATUS_DONE, res.Status)
	require.Equal(t, 1920, res.MetaData["width"])
	require.Equal(t, "trailer at 1920", res.MetaData["label"])
	require.Equal(t, "unchanged", res.MetaData["static"])
	require.Equal(t, map[string]any{"title": "trailer"}, res.MetaData["nested"])

	_, err = h.Start(ctx, &Request{Operation: "map", Input: videoInput(), Configuration: map[string]any{CONFIG_MAPPING: "nope"}})
	require.Error(t, err)
}

func TestHttpHandler(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var res *Result
		switch {
		case req.Operation == "crash":
			w.WriteHeader(http.StatusInternalServerError)
			return
		case req.Operation == "weird":
			res = &Result{Status: "Maybe"}
		case req.ResultRef == "":
			res = Pending("job-" + req.AssetId)
		default:
			res = Done(map[string]any{"job": req.ResultRef})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}))
	defer srv.Close()

	h := NewHttpHandler(srv.URL, srv.Client())
	req := &Request{ExecutionId: "e1", AssetId: "a1", Stage: "encode", Operation: "transcode", Input: videoInput()}

	res, err := h.Start(ctx, req)
	require.NoError(t, err)
	require.Equal(t, RESULT_STATUS_PENDING, res.Status)
	require.Equal(t, "job-a1", res.ResultRef)

	res, err = h.Monitor(ctx, req, "job-a1")
	require.NoError(t, err)
	require.Equal(t, RESULT_STATUS_DONE, res.Status)
	require.Equal(t, map[string]any{"job": "job-a1"}, res.MetaData)
	require.Empty(t, req.ResultRef)

	_, err = h.Start(ctx, &Request{Operation: "crash"})
	require.Error(t, err)
	_, err = h.Start(ctx, &Request{Operation: "weird"})
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)

	for _, name := range []string{HANDLER_JAVASCRIPT, HANDLER_JSON_MAPPER, HANDLER_NOOP} {
		h, err := r.Resolve(name)
		require.NoError(t, err)
		require.NotNil(t, h)
	}

	h, err := r.Resolve("https://ops.example.com/transcode")
	require.NoError(t, err)
	require.IsType(t, &httpHandler{}, h)

	_, err = r.Resolve("missing")
	var notFound HandlerNotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "missing", notFound.Ref)

	r.Register("custom", NewNoopHandler())
	require.Contains(t, r.Names(), "custom")
	h, err = r.Resolve("custom")
	require.NoError(t, err)
	res, err := h.Start(context.Background(), &Request{})
	require.NoError(t, err)
	require.Equal(t, RESULT_STATUS_DONE, res.Status)
}
