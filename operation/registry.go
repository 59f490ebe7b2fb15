package operation

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const HANDLER_JAVASCRIPT = "javascript"
const HANDLER_JSON_MAPPER = "jsonmapper"
const HANDLER_NOOP = "noop"

type HandlerNotFoundError struct {
	Ref string
}

func (e HandlerNotFoundError) Error() string {
	return fmt.Sprintf("operation handler %s not found", e.Ref)
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	client   HTTPDoer
}

// NewRegistry returns a registry holding the built-in handlers. client is used for http handler refs.
func NewRegistry(client HTTPDoer) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	r := &Registry{
		handlers: make(map[string]Handler),
		client:   client,
	}
	r.Register(HANDLER_JAVASCRIPT, NewJavascriptHandler())
	r.Register(HANDLER_JSON_MAPPER, NewJsonMapperHandler())
	r.Register(HANDLER_NOOP, NewNoopHandler())
	return r
}

func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func isHttpRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (r *Registry) Resolve(ref string) (Handler, error) {
	if isHttpRef(ref) {
		return NewHttpHandler(ref, r.client), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[ref]
	if !ok {
		return nil, HandlerNotFoundError{Ref: ref}
	}
	return h, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	return names
}
