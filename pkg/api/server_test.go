package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"peerd/pkg/auth"
	"peerd/pkg/bird"
	"peerd/pkg/model"
	"peerd/pkg/roster"
)

type fakeUpdater struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeUpdater) Update(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeUpdater) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeUpdater) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeUpdater) Status() bird.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bird.Status{Watermark: uint64(f.calls)}
}

type fakeJournal []model.CycleEvent

func (f fakeJournal) Recent(_ context.Context, limit int) ([]model.CycleEvent, error) {
	if limit < len(f) {
		return f[:limit], nil
	}
	return f, nil
}

func testRoster() *roster.Roster {
	r := roster.New([]model.ZoneConfig{
		{Name: "edge", Bird: &model.ZoneBird{ProtocolPrefix: "bgp-", BGPTemplate: "t_bgp"}},
		{Name: "lab"},
	}, nil)
	z, _ := r.Zone("edge")
	z.Sync([]model.PeerInfo{{
		Name:  "alice",
		Route: model.RouteBIRD,
		Props: map[string]string{"bgp_endpoint": "10.0.0.5", "bgp_neighbor_as": "65001"},
	}})
	return r
}

func newTestServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	if s.Updater == nil {
		s.Updater = &fakeUpdater{}
	}
	if s.Roster == nil {
		s.Roster = testRoster()
	}
	s.Logger = zaptest.NewLogger(t)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &Server{Token: "secret"})
	resp := get(t, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStaticToken(t *testing.T) {
	srv := newTestServer(t, &Server{Token: "secret"})

	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/api/v1/status", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/api/v1/status", "wrong").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/api/v1/status", "secret-and-more").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/v1/status", "secret").StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Auth-Token", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenMatches(t *testing.T) {
	assert.True(t, tokenMatches("secret", "secret"))
	assert.False(t, tokenMatches("secre", "secret"))
	assert.False(t, tokenMatches("secrets", "secret"))
	assert.False(t, tokenMatches("", ""))
	assert.False(t, tokenMatches("secret", ""))
}

func TestLoginIssuesUsableToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	srv := newTestServer(t, &Server{
		Signer: auth.NewSigner("jwt-secret"),
		Admin:  Admin{Username: "root", PasswordHash: string(hash)},
	})

	login := func(password string) *http.Response {
		body, _ := json.Marshal(authRequest{Username: "root", Password: password})
		resp, err := http.Post(srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, login("wrong").StatusCode)

	resp := login("hunter2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["token"])

	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/api/v1/zones", out["token"]).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, srv.URL+"/api/v1/zones", "not-a-jwt").StatusCode)
}

func TestStatus(t *testing.T) {
	opts := &bird.Options{GeneratedConf: "/tmp/x"}
	srv := newTestServer(t, &Server{
		Updater: &fakeUpdater{calls: 3},
		Options: func() *bird.Options { return opts },
	})
	resp := get(t, srv.URL+"/api/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.Enabled)
	assert.EqualValues(t, 3, st.Bird.Watermark)
}

func TestZonesReportsBusyZone(t *testing.T) {
	r := testRoster()
	srv := newTestServer(t, &Server{Roster: r})

	var zones []ZoneView
	resp := get(t, srv.URL+"/api/v1/zones", "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&zones))
	require.Len(t, zones, 2)
	assert.Equal(t, "edge", zones[0].Name)
	assert.True(t, zones[0].BirdEnabled)
	require.Len(t, zones[0].Peers, 1)
	assert.Equal(t, "alice", zones[0].Peers[0].Name)
	assert.False(t, zones[1].BirdEnabled)

	z, _ := r.Zone("edge")
	unlock := z.Lock()
	defer unlock()
	zones = nil
	resp = get(t, srv.URL+"/api/v1/zones", "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&zones))
	assert.True(t, zones[0].Busy)
	assert.Empty(t, zones[0].Peers)
}

func TestRenderPreview(t *testing.T) {
	srv := newTestServer(t, &Server{})
	var out RenderResponse
	resp := get(t, srv.URL+"/api/v1/render", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Deferred)
	assert.Equal(t, 1, out.Peers)
	assert.Equal(t, bird.Header+"\n"+
		"protocol bgp bgp-alice from t_bgp { neighbor 10.0.0.5  as 65001;  };", out.Config)
}

func TestUpdateTrigger(t *testing.T) {
	up := &fakeUpdater{}
	srv := newTestServer(t, &Server{Updater: up})

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, srv.URL+"/api/v1/update", "").StatusCode)

	resp, err := http.Post(srv.URL+"/api/v1/update", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, up.count())

	up.fail(errors.New("connection refused"))
	resp2, err := http.Post(srv.URL+"/api/v1/update", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp2.StatusCode)
}

func TestJournal(t *testing.T) {
	j := fakeJournal{{ID: 2, Outcome: model.CycleWritten}, {ID: 1, Outcome: model.CycleDeferred}}
	srv := newTestServer(t, &Server{Journal: j})

	var out []model.CycleEvent
	resp := get(t, srv.URL+"/api/v1/journal?limit=1", "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.EqualValues(t, 2, out[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/v1/journal?limit=x", "").StatusCode)
}

func TestJournalDisabled(t *testing.T) {
	srv := newTestServer(t, &Server{})
	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/v1/journal", "").StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "peerd_test_total"})
	reg.MustRegister(c)
	c.Inc()
	srv := newTestServer(t, &Server{Gatherer: reg})

	resp := get(t, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "peerd_test_total 1")
}

func TestEventStream(t *testing.T) {
	hub := NewEventHub(zaptest.NewLogger(t))
	defer hub.Close()
	srv := newTestServer(t, &Server{Events: hub, Token: "secret"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Auth-Token": []string{"secret"}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	hub.CycleDone(model.CycleEvent{ID: 7, Outcome: model.CycleWritten, Lines: 1})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string           `json:"type"`
		Payload model.CycleEvent `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "cycle", msg.Type)
	assert.EqualValues(t, 7, msg.Payload.ID)
	assert.Equal(t, model.CycleWritten, msg.Payload.Outcome)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}
