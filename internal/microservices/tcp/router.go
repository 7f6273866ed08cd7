package tcp

import (
	"context"
	"log/slog"
	"time"

	"runserver/internal/protocol"
)

// Response messages that are part of the wire contract
const (
	MsgInvalidFormat  = "invalid request format"
	MsgInvalidRequest = "invalid request"
	MsgInvalidType    = "invalid request type"
	MsgRateLimited    = "rate limit exceeded"
	MsgInternalError  = "internal error"
)

// HandlerFunc produces the response for one request on one session
type HandlerFunc func(ctx context.Context, sess *Session, req protocol.Request) protocol.Response

// Router maps a lower-cased request type to its handler. The table is
// filled at construction and only read afterwards.
type Router struct {
	handlers map[string]HandlerFunc
	metrics  *serverMetrics
	logger   *slog.Logger
}

func NewRouter(h *Handlers, m *serverMetrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		handlers: make(map[string]HandlerFunc),
		metrics:  m,
		logger:   logger,
	}
	r.handle(protocol.TypeLogin, h.Login)
	r.handle(protocol.TypeStatus, h.Status)
	r.handle(protocol.TypeEcho, h.Echo)
	r.handle(protocol.TypeSearch, h.Search)
	r.handle(protocol.TypeSave, h.Save)
	r.handle(protocol.TypeList, h.List)
	return r
}

func (r *Router) handle(reqType string, fn HandlerFunc) {
	r.handlers[reqType] = fn
}

// Lookup selects the handler for a request type; unknown types get the
// invalid-type handler.
func (r *Router) Lookup(reqType string) (HandlerFunc, bool) {
	fn, ok := r.handlers[reqType]
	if !ok {
		return invalidType, false
	}
	return fn, true
}

// Route dispatches req and always returns exactly one response. A handler
// panic is turned into an internal error response.
func (r *Router) Route(ctx context.Context, sess *Session, req protocol.Request) (resp protocol.Response) {
	start := time.Now()
	reqType := req.NormalizedType()
	fn, known := r.Lookup(reqType)

	label := reqType
	if !known {
		label = "unknown"
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler_panic",
				"type", label,
				"panic", rec,
			)
			if r.metrics != nil {
				r.metrics.handlerPanics.Inc()
			}
			resp = protocol.Fail(MsgInternalError)
		}
		if r.metrics != nil {
			r.metrics.request(label, resp.Success, start)
		}
	}()

	r.logger.Debug("request_received", "type", label)
	return fn(ctx, sess, req)
}

func invalidType(_ context.Context, _ *Session, _ protocol.Request) protocol.Response {
	return protocol.Fail(MsgInvalidType)
}
