package operation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mohitkumar/mediaflow/util"
)

// HTTPDoer is the client used to call remote operations.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpHandler POSTs the request as json to url and decodes a Result from the response.
// Start and Monitor share the url; Monitor requests carry the resultRef.
type httpHandler struct {
	url       string
	client    HTTPDoer
	reqEncDec util.EncoderDecoder[Request]
	resEncDec util.EncoderDecoder[Result]
}

var _ Handler = new(httpHandler)

func NewHttpHandler(url string, client HTTPDoer) *httpHandler {
	return &httpHandler{
		url:       url,
		client:    client,
		reqEncDec: util.NewJsonEncoderDecoder[Request](),
		resEncDec: util.NewJsonEncoderDecoder[Result](),
	}
}

func (h *httpHandler) Start(ctx context.Context, req *Request) (*Result, error) {
	return h.call(ctx, req)
}

func (h *httpHandler) Monitor(ctx context.Context, req *Request, resultRef string) (*Result, error) {
	monitorReq := *req
	monitorReq.ResultRef = resultRef
	return h.call(ctx, &monitorReq)
}

func (h *httpHandler) call(ctx context.Context, req *Request) (*Result, error) {
	body, err := h.reqEncDec.Encode(*req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build operation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call operation %s: %w", req.Operation, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read operation response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("operation %s returned %d: %s", req.Operation, resp.StatusCode, string(data))
	}
	res, err := h.resEncDec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode operation response: %w", err)
	}
	switch res.Status {
	case RESULT_STATUS_DONE, RESULT_STATUS_FAILED, RESULT_STATUS_PENDING:
	default:
		return nil, fmt.Errorf("operation %s returned unknown status %q", req.Operation, res.Status)
	}
	return res, nil
}
