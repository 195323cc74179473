// Package api is the HTTP presentation layer over the chat core. It owns
// routing, identity resolution, request decoding and error-to-status mapping;
// all chat semantics live below it.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"avatarchat/pkg/auth"
	"avatarchat/pkg/chat"
	"avatarchat/pkg/errs"
	"avatarchat/pkg/logger"
	"avatarchat/pkg/models"
	"avatarchat/pkg/stream"
	"avatarchat/pkg/utils"
)

const maxBodyBytes = 64 << 10

// API bundles the handlers' collaborators.
type API struct {
	Orch  *chat.Orchestrator
	Chats chat.ChatStore
	Msgs  chat.MessageStore
	Hub   *stream.Hub
	Sec   auth.SecConfig
}

// Router builds the full route table. Identity middleware wraps the /v1
// subtree only; health and metrics stay open.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.Middleware(a.Sec))
	v1.HandleFunc("/chats", a.handleListChats).Methods(http.MethodGet)
	v1.HandleFunc("/chats/{avatarID}/messages", a.handleSend).Methods(http.MethodPost)
	v1.HandleFunc("/chats/{threadID}/messages", a.handleListMessages).Methods(http.MethodGet)
	v1.HandleFunc("/chats/{threadID}/stream", a.handleStream).Methods(http.MethodGet)
	v1.HandleFunc("/chats/{threadID}/messages/{msgID}/seen", a.handleSeen).Methods(http.MethodPost)
	v1.HandleFunc("/chats/{threadID}/report", a.handleReport).Methods(http.MethodPost)
	v1.HandleFunc("/chats/{threadID}", a.handleDelete).Methods(http.MethodDelete)
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sendRequest struct {
	Content  string `json:"content"`
	ThreadID string `json:"thread_id,omitempty"`
}

type sendResponse struct {
	ThreadID    string         `json:"thread_id"`
	UserMessage models.Message `json:"user_message"`
	Reply       models.Message `json:"reply"`
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	res, err := a.Orch.SendMessage(r.Context(), chat.SendRequest{
		UserID:   caller,
		AvatarID: mux.Vars(r)["avatarID"],
		Text:     req.Content,
		ThreadID: req.ThreadID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, sendResponse{
		ThreadID:    res.ThreadID,
		UserMessage: res.UserMessage,
		Reply:       res.Reply,
	})
}

func (a *API) handleListChats(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	threads, err := a.Chats.ListThreads(r.Context(), caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	models.SortThreads(threads)
	if threads == nil {
		threads = []models.Thread{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"chats": threads})
}

// messageView annotates a stored message with presentation hints.
type messageView struct {
	models.Message
	LongPause bool `json:"long_pause"`
}

type messagesResponse struct {
	ThreadID   string        `json:"thread_id"`
	Generating bool          `json:"generating"`
	Messages   []messageView `json:"messages"`
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	threadID := mux.Vars(r)["threadID"]
	if err := a.authorizeThread(r, threadID, caller); err != nil {
		writeErr(w, err)
		return
	}
	msgs, err := a.Msgs.ListMessages(r.Context(), threadID)
	if err != nil {
		writeErr(w, err)
		return
	}
	models.SortMessages(msgs)
	_ = utils.JSONWrite(w, http.StatusOK, messagesResponse{
		ThreadID:   threadID,
		Generating: a.Orch.Generating(threadID),
		Messages:   annotate(msgs),
	})
}

// annotate marks each message whose gap from its predecessor warrants a
// timestamp banner.
func annotate(msgs []models.Message) []messageView {
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		var prev *models.Message
		if i > 0 {
			prev = &msgs[i-1]
		}
		out[i] = messageView{Message: m, LongPause: chat.IsLongPause(prev, m)}
	}
	return out
}

// handleStream serves full-snapshot frames over SSE. Each frame is the whole
// ordered message list; consumers replace, never merge.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	threadID := mux.Vars(r)["threadID"]
	if err := a.authorizeThread(r, threadID, caller); err != nil {
		writeErr(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := a.Hub.Subscribe(r.Context(), threadID)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for snap := range sub.C() {
		if _, err := io.WriteString(w, "event: snapshot\ndata: "); err != nil {
			return
		}
		if err := enc.Encode(annotate(snap)); err != nil {
			return
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return
		}
		flusher.Flush()
	}
	if err := sub.Err(); err != nil {
		logger.Log.Warn("stream_terminated", zap.String("thread", threadID), zap.Error(err))
	}
}

func (a *API) handleSeen(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	vars := mux.Vars(r)
	if err := a.authorizeThread(r, vars["threadID"], caller); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.Orch.MarkMessageSeen(r.Context(), vars["threadID"], vars["msgID"], caller); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	threadID := mux.Vars(r)["threadID"]
	if err := a.authorizeThread(r, threadID, caller); err != nil {
		writeErr(w, err)
		return
	}
	rep, err := a.Orch.ReportThread(r.Context(), threadID, caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, rep)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireCaller(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	threadID := mux.Vars(r)["threadID"]
	if err := a.authorizeThread(r, threadID, caller); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.Orch.DeleteThread(r.Context(), threadID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeThread confirms the thread exists and belongs to the caller.
// Both a missing thread and someone else's thread answer NotFound so the
// route does not reveal which threads exist.
func (a *API) authorizeThread(r *http.Request, threadID, caller string) error {
	th, err := a.Chats.GetThreadByID(r.Context(), threadID)
	if err != nil {
		return err
	}
	if th == nil || th.UserID != caller {
		return errs.NotFound("thread not found: " + threadID)
	}
	return nil
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errs.Validation("malformed request body")
	}
	return nil
}

// writeErr maps an error kind to its HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindUnauthenticated:
		status = http.StatusUnauthorized
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindGeneration:
		status = http.StatusBadGateway
	case errs.KindStorage:
		status = http.StatusInternalServerError
	}
	utils.JSONError(w, status, err.Error())
}
