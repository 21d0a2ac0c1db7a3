package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/pkg/auth"
	"github.com/xhad/verdikt/pkg/notifier"
	"github.com/xhad/verdikt/pkg/queue"
	"github.com/xhad/verdikt/pkg/search"
	"github.com/xhad/verdikt/pkg/store"
	"github.com/xhad/verdikt/pkg/submit"
	"github.com/xhad/verdikt/server"
)

const (
	token      = "test-token"
	channelKey = "3f2b8c1e-7a4d-4e0b-9c55-1d2e3f4a5b6c"
)

type constEmbedder struct{}

func (constEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (constEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type fixture struct {
	srv   *httptest.Server
	hub   *notifier.Hub
	queue *queue.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	authn, err := auth.NewStaticAuthenticator(map[string]string{token: channelKey})
	require.NoError(t, err)

	q, err := queue.Open("", queue.QueueConfig{Name: "decisions"})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	vs := store.New(store.NewMemoryIndex(2), constEmbedder{}, store.VectorStoreConfig{})
	require.NoError(t, vs.Save(context.Background(),
		[]models.Chunk{{Text: "позов", DocumentID: "49586520", DecisionNumber: "910/1/24"}},
		[]string{"49586520_chunk_0"}, "49586520"))

	hub := notifier.NewHub(8, nil)
	s := server.New(server.Config{}, server.Deps{
		Auth:       authn,
		Submitter:  submit.NewService(q, func(id string) string { return "https://example.test/" + id }, nil),
		Searcher:   search.NewService(vs, constEmbedder{}, 20, nil),
		Subscriber: hub,
		Counters: map[string]server.Counter{
			"vectors": vs.Count,
			"queued":  q.Len,
		},
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, hub: hub, queue: q}
}

func (f *fixture) post(t *testing.T, path string, body interface{}, auth bool) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/decisions", map[string]string{"text": "49586520\nsome text\n12345678"}, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var receipt submit.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	assert.Equal(t, []string{"49586520", "12345678"}, receipt.Accepted)
	assert.Equal(t, channelKey, receipt.ChannelKey)

	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSubmit_Errors(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/decisions", map[string]string{"text": "nothing here"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/api/decisions", map[string]string{"text": "49586520"}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/api/decisions", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/search", search.Request{Query: "позов"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []models.DocumentGroup `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "49586520", body.Results[0].DecisionID)
	assert.InDelta(t, 1.0, body.Results[0].MaxScore, 1e-6)
	require.Len(t, body.Results[0].Chunks, 1)
	assert.Equal(t, "910/1/24", body.Results[0].Chunks[0].Metadata.DecisionNumber)

	empty := f.post(t, "/api/search", search.Request{Query: " "}, true)
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["vectors"])
	assert.Equal(t, float64(0), body["queued"])
}

func TestHealth_Degraded(t *testing.T) {
	s := server.New(server.Config{}, server.Deps{
		Counters: map[string]server.Counter{
			"vectors": func(ctx context.Context) (int, error) { return 0, errors.New("db down") },
		},
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func wsURL(f *fixture, query string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/progress" + query
}

func TestProgress_StreamsCallerEvents(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, "?token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers(channelKey) == 1 },
		time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, f.hub.Publish(ctx, "someone-else", models.ProgressEvent{DecisionID: "1", Status: models.EventStarted}))
	require.NoError(t, f.hub.Publish(ctx, channelKey, models.ProgressEvent{DecisionID: "49586520", Status: models.EventDone, Detail: "910/1/24"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.ProgressEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "49586520", ev.DecisionID)
	assert.Equal(t, models.EventDone, ev.Status)

	conn.Close()
	require.Eventually(t, func() bool { return f.hub.Subscribers(channelKey) == 0 },
		time.Second, 5*time.Millisecond)
}

func TestProgress_BearerHeader(t *testing.T) {
	f := newFixture(t)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, ""), header)
	require.NoError(t, err)
	conn.Close()
}

func TestProgress_RequiresToken(t *testing.T) {
	f := newFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(f, "?token=wrong"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
