package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"avatarchat/pkg/auth"
	"avatarchat/pkg/chat"
	"avatarchat/pkg/errs"
	"avatarchat/pkg/models"
	"avatarchat/pkg/stream"
)

// apiStore is the in-memory storage backing the handler tests.
type apiStore struct {
	mu      sync.Mutex
	threads map[string]*models.Thread
	msgs    map[string][]models.Message
	reports []models.Report
}

func newAPIStore() *apiStore {
	return &apiStore{threads: make(map[string]*models.Thread), msgs: make(map[string][]models.Message)}
}

func (s *apiStore) GetThread(ctx context.Context, userID, avatarID string) (*models.Thread, error) {
	return s.GetThreadByID(ctx, models.ThreadKey(userID, avatarID))
}

func (s *apiStore) GetThreadByID(_ context.Context, threadID string) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[threadID]
	if !ok {
		return nil, nil
	}
	cp := *th
	return &cp, nil
}

func (s *apiStore) CreateThread(_ context.Context, th models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.threads[th.ID]; ok {
		th.CreatedAt = existing.CreatedAt
		if existing.ModifiedAt > th.ModifiedAt {
			th.ModifiedAt = existing.ModifiedAt
		}
	}
	s.threads[th.ID] = &th
	return nil
}

func (s *apiStore) ListThreads(_ context.Context, userID string) ([]models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Thread
	for _, th := range s.threads {
		if th.UserID == userID {
			out = append(out, *th)
		}
	}
	return out, nil
}

func (s *apiStore) DeleteThreadMeta(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

func (s *apiStore) TouchModified(_ context.Context, threadID string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[threadID]
	if !ok {
		return errs.NotFound("thread not found: " + threadID)
	}
	if ts > th.ModifiedAt {
		th.ModifiedAt = ts
	}
	return nil
}

func (s *apiStore) AppendMessage(_ context.Context, m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[m.ChatID] = append(s.msgs[m.ChatID], m)
	return nil
}

func (s *apiStore) GetMessage(_ context.Context, threadID, msgID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs[threadID] {
		if m.ID == msgID {
			cp := m
			return &cp, nil
		}
	}
	return nil, errs.NotFound("message not found: " + msgID)
}

func (s *apiStore) GetLastMessage(_ context.Context, threadID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.msgs[threadID]
	if len(list) == 0 {
		return nil, nil
	}
	cp := list[len(list)-1]
	return &cp, nil
}

func (s *apiStore) ListMessages(_ context.Context, threadID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.msgs[threadID]...), nil
}

func (s *apiStore) MarkSeen(_ context.Context, threadID, msgID, viewerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.msgs[threadID]
	for i := range list {
		if list[i].ID == msgID {
			if !list[i].SeenByViewer(viewerID) {
				list[i].SeenBy = append(list[i].SeenBy, viewerID)
			}
			return nil
		}
	}
	return errs.NotFound("message not found: " + msgID)
}

func (s *apiStore) DeleteAllMessages(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgs, threadID)
	return nil
}

func (s *apiStore) SaveReport(_ context.Context, r models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

type echoGen struct{}

func (echoGen) Generate(_ context.Context, turns []chat.Turn) (string, error) {
	return "echo: " + turns[len(turns)-1].Content, nil
}

func newTestAPI(t *testing.T, sec auth.SecConfig) (*API, *apiStore) {
	t.Helper()
	st := newAPIStore()
	var c int
	orch := chat.New(st, st, st, echoGen{}, chat.Options{
		NewID: func() string { c++; return fmt.Sprintf("msg-%04d", c) },
	})
	hub := stream.NewHub(st)
	t.Cleanup(hub.Close)
	if sec.RPS == 0 {
		sec.RPS = 1000
		sec.Burst = 1000
	}
	return &API{Orch: orch, Chats: st, Msgs: st, Hub: hub, Sec: sec}, st
}

func doJSON(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSendEndpoint(t *testing.T) {
	a, _ := newTestAPI(t, auth.SecConfig{})
	h := a.Router()

	rec := doJSON(t, h, http.MethodPost, "/v1/chats/A1/messages", "U1", map[string]string{"content": "hello there"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var res sendResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Equal(t, "U1_A1", res.ThreadID)
	require.Equal(t, "hello there", res.UserMessage.Content)
	require.Equal(t, "echo: hello there", res.Reply.Content)
	require.Equal(t, []string{"U1"}, res.UserMessage.SeenBy)
}

func TestSendEndpointRejectsShortText(t *testing.T) {
	a, st := newTestAPI(t, auth.SecConfig{})
	rec := doJSON(t, a.Router(), http.MethodPost, "/v1/chats/A1/messages", "U1", map[string]string{"content": "hi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, st.threads)
}

func TestSendEndpointMalformedBody(t *testing.T) {
	a, _ := newTestAPI(t, auth.SecConfig{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chats/A1/messages", bytes.NewBufferString("{not json"))
	req.Header.Set("X-User-ID", "U1")
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingIdentity(t *testing.T) {
	a, _ := newTestAPI(t, auth.SecConfig{})
	rec := doJSON(t, a.Router(), http.MethodGet, "/v1/chats", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignatureVerification(t *testing.T) {
	key := "test-signing-key"
	a, _ := newTestAPI(t, auth.SecConfig{SigningKeys: map[string]struct{}{key: {}}, RPS: 1000, Burst: 1000})
	h := a.Router()

	// No signature.
	rec := doJSON(t, h, http.MethodGet, "/v1/chats", "U1", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong signature.
	req := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	req.Header.Set("X-User-ID", "U1")
	req.Header.Set("X-User-Signature", "deadbeef")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid signature.
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte("U1"))
	req = httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
	req.Header.Set("X-User-ID", "U1")
	req.Header.Set("X-User-Signature", hex.EncodeToString(mac.Sum(nil)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListChatsSortedByActivity(t *testing.T) {
	a, _ := newTestAPI(t, auth.SecConfig{})
	h := a.Router()

	for _, avatar := range []string{"A1", "A2", "A3"} {
		rec := doJSON(t, h, http.MethodPost, "/v1/chats/"+avatar+"/messages", "U1", map[string]string{"content": "hello there"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/chats", "U1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Chats []models.Thread `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Len(t, res.Chats, 3)
	// Most recently active first.
	require.Equal(t, "U1_A3", res.Chats[0].ID)
	require.Equal(t, "U1_A1", res.Chats[2].ID)
}

func TestListMessagesOwnershipRequired(t *testing.T) {
	a, _ := newTestAPI(t, auth.SecConfig{})
	h := a.Router()

	rec := doJSON(t, h, http.MethodPost, "/v1/chats/A1/messages", "U1", map[string]string{"content": "hello there"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// The owner sees the thread.
	rec = doJSON(t, h, http.MethodGet, "/v1/chats/U1_A1/messages", "U1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res messagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Len(t, res.Messages, 2)
	require.False(t, res.Generating)

	// Someone else gets NotFound, not Forbidden, so thread ids do not leak.
	rec = doJSON(t, h, http.MethodGet, "/v1/chats/U1_A1/messages", "U2", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Unknown thread.
	rec = doJSON(t, h, http.MethodGet, "/v1/chats/nope/messages", "U1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSeenEndpoint(t *testing.T) {
	a, st := newTestAPI(t, auth.SecConfig{})
	h := a.Router()

	rec := doJSON(t, h, http.MethodPost, "/v1/chats/A1/messages", "U1", map[string]string{"content": "hello there"})
	var sent sendResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sent))

	rec = doJSON(t, h, http.MethodPost, "/v1/chats/U1_A1/messages/"+sent.Reply.ID+"/seen", "U1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	m, err := st.GetMessage(context.Background(), "U1_A1", sent.Reply.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"U1"}, m.SeenBy)

	rec = doJSON(t, h, http.MethodPost, "/v1/chats/U1_A1/messages/msg-missing/seen", "U1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportEndpoint(t *testing.T) {
	a, st := newTestAPI(t, auth.SecConfig{})
	h := a.Router()

	doJSON(t, h, http.MethodPost, "/v1/chats/A1/messages", "U1", map[string]string{"content": "hello there"})
	rec := doJSON(t, h, http.MethodPost, "/v1/chats/U1_A1/report", "U1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var rep models.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rep))
	require.True(t, rep.IsActive)
	require.Equal(t, "U1_A1", rep.ChatID)
	require.Len(t, st.reports, 1)
}

func TestDeleteEndpoint(t *testing.T) {
	a, st := newTestAPI(t, auth.SecConfig{})
	h := a.Router()

	doJSON(t, h, http.MethodPost, "/v1/chats/A1/messages", "U1", map[string]string{"content": "hello there"})
	rec := doJSON(t, h, http.MethodDelete, "/v1/chats/U1_A1", "U1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, st.threads)
	require.Empty(t, st.msgs)

	// Gone means gone.
	rec = doJSON(t, h, http.MethodGet, "/v1/chats/U1_A1/messages", "U1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	a, _ := newTestAPI(t, auth.SecConfig{})
	rec := doJSON(t, a.Router(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLongPauseAnnotation(t *testing.T) {
	views := annotate([]models.Message{
		{ID: "m1", CreatedAt: 0},
		{ID: "m2", CreatedAt: int64(46) * 60 * 1e9},
		{ID: "m3", CreatedAt: int64(46)*60*1e9 + 1e9},
	})
	require.False(t, views[0].LongPause)
	require.True(t, views[1].LongPause)
	require.False(t, views[2].LongPause)
}

func TestStreamEndpointEmitsSnapshots(t *testing.T) {
	a, _ := newTestAPI(t, auth.SecConfig{})
	h := a.Router()

	doJSON(t, h, http.MethodPost, "/v1/chats/A1/messages", "U1", map[string]string{"content": "hello there"})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/chats/U1_A1/stream", nil).WithContext(ctx)
	req.Header.Set("X-User-ID", "U1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	// The initial snapshot is queued before Subscribe returns; ending the
	// request drains it and closes the stream.
	cancel()
	<-done

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "event: snapshot")
	require.Contains(t, rec.Body.String(), "hello there")
}
