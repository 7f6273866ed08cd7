package tcp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"runserver/internal/protocol"
	"runserver/internal/registry"
	"runserver/internal/store"
)

const (
	MsgLoginSuccess    = "login success"
	MsgMissingClientID = "missing client id"
	MsgUnknownClientID = "unknown client id"
	MsgLoginFailed     = "login failed"
	MsgPong            = "pong"
	MsgNoMessage       = "no message"
	MsgMissingID       = "missing id"
	MsgSearchFailed    = "search failed"
	MsgSaveSuccess     = "save success"
	MsgSaveFailed      = "save failed"
	MsgNoDataForSave   = "no data for save"
	MsgListFailed      = "error retrieving list"
)

// Handlers implements the request types. It is stateless apart from its
// collaborators; per-connection state lives in the Session.
type Handlers struct {
	store        store.Client
	registry     *registry.LoginRegistry
	table        string
	strictLogin  bool
	storeTimeout time.Duration
	logger       *slog.Logger
}

func NewHandlers(st store.Client, reg *registry.LoginRegistry, opts Options, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Handlers{
		store:        st,
		registry:     reg,
		table:        opts.Table,
		strictLogin:  opts.StrictLogin,
		storeTimeout: opts.StoreTimeout,
		logger:       logger,
	}
}

func (h *Handlers) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.storeTimeout)
}

// Login looks up the content id for data.id and registers the session.
// Unless strict, it reports success even when nothing was found.
func (h *Handlers) Login(ctx context.Context, sess *Session, req protocol.Request) protocol.Response {
	idValue, ok := req.Field("id")
	if !ok {
		return protocol.Fail(MsgMissingClientID)
	}
	clientID := idValue.String()

	sctx, cancel := h.storeContext(ctx)
	defer cancel()
	contentID, found, err := h.store.LookupContentID(sctx, clientID, h.table)
	if err != nil {
		h.logger.Error("content_id_lookup_failed",
			"client_id", clientID,
			"error", err,
		)
		if h.strictLogin {
			return protocol.Fail(MsgLoginFailed)
		}
		found = false
	}

	if !found {
		h.logger.Info("login_without_content_id", "client_id", clientID)
		if h.strictLogin {
			return protocol.Fail(MsgUnknownClientID)
		}
		return protocol.OK(MsgLoginSuccess)
	}

	if !sess.BindLogin(clientID, contentID) {
		// connection went away mid-request; nothing was registered
		return protocol.Fail(MsgLoginFailed)
	}
	h.logger.Info("client_logged_in",
		"client_id", clientID,
		"content_id", contentID,
		"session_id", sess.ID,
	)
	return protocol.OK(MsgLoginSuccess)
}

// Status answers "ping" (any case) with "pong"
func (h *Handlers) Status(_ context.Context, _ *Session, req protocol.Request) protocol.Response {
	msg, ok := req.Field("message")
	if ok && strings.EqualFold(msg.String(), "ping") {
		return protocol.OK(MsgPong)
	}
	return protocol.Fail(MsgInvalidRequest)
}

func (h *Handlers) Echo(_ context.Context, _ *Session, req protocol.Request) protocol.Response {
	msg, ok := req.Field("message")
	if !ok {
		return protocol.Fail(MsgNoMessage)
	}
	return protocol.OK("echo: " + msg.String())
}

// Search returns the record for data.id, or an empty map if there is none
func (h *Handlers) Search(ctx context.Context, _ *Session, req protocol.Request) protocol.Response {
	idValue, ok := req.Field("id")
	if !ok {
		return protocol.Fail(MsgMissingID)
	}

	sctx, cancel := h.storeContext(ctx)
	defer cancel()
	rec, err := h.store.GetRecordByID(sctx, h.table, idValue.String())
	if err != nil {
		h.logger.Error("record_search_failed",
			"id", idValue.String(),
			"error", err,
		)
		return protocol.Fail(MsgSearchFailed)
	}
	return protocol.OK("").WithData(rec)
}

// Save upserts the whole data map; data.id decides insert vs update
func (h *Handlers) Save(ctx context.Context, _ *Session, req protocol.Request) protocol.Response {
	if _, ok := req.Field("id"); !ok {
		return protocol.Fail(MsgNoDataForSave)
	}

	sctx, cancel := h.storeContext(ctx)
	defer cancel()
	saved, err := h.store.UpsertRecord(sctx, h.table, store.Record(req.Data))
	if err != nil {
		h.logger.Error("record_save_failed", "error", err)
		return protocol.Fail(MsgSaveFailed)
	}
	if !saved {
		return protocol.Fail(MsgSaveFailed)
	}
	return protocol.OK(MsgSaveSuccess)
}

// List returns a snapshot of the logged-in clients
func (h *Handlers) List(_ context.Context, _ *Session, _ protocol.Request) protocol.Response {
	if h.registry == nil {
		return protocol.Fail(MsgListFailed)
	}
	snap := h.registry.Snapshot()
	data := make(map[string]protocol.Value, len(snap))
	for clientID, contentID := range snap {
		data[clientID] = protocol.String(contentID)
	}
	return protocol.OK("").WithData(data)
}
