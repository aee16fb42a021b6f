package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomsuharto-git/irm-personas-api/internal/catalog"
	"github.com/tomsuharto-git/irm-personas-api/internal/config"
	"github.com/tomsuharto-git/irm-personas-api/internal/engine"
	"github.com/tomsuharto-git/irm-personas-api/internal/llm"
	"github.com/tomsuharto-git/irm-personas-api/internal/observability"
)

const testAudienceConfig = `{
  "audiences": {
    "premium_chocolate": {
      "category": "premium chocolate",
      "description": "Urban professionals who buy premium chocolate",
      "personas": [
        {
          "id": 1,
          "name": "Marcus Webb",
          "age": 41,
          "occupation": "architect",
          "location": "Chicago",
          "backstory": "Grew up above his family's bakery.",
          "category_relationship": "Buys single-origin bars weekly.",
          "personality_traits": ["analytical", "curious"],
          "speech_patterns": ["precise wording"]
        },
        {
          "id": 2,
          "name": "Jennifer Cole",
          "age": 34,
          "occupation": "nurse",
          "location": "Austin",
          "backstory": "Keeps a candy drawer at the nurses' station.",
          "category_relationship": "Treats chocolate as a shift reward.",
          "personality_traits": ["warm", "direct"],
          "speech_patterns": ["short sentences"]
        },
        {
          "id": 3,
          "name": "David Okafor",
          "age": 28,
          "occupation": "teacher",
          "location": "Portland",
          "backstory": "Started a tasting club with colleagues.",
          "category_relationship": "Hunts for fair-trade labels.",
          "personality_traits": ["earnest"],
          "speech_patterns": ["asks questions back"]
        }
      ]
    }
  }
}`

// scriptedClient answers selection requests with a fixed JSON array and
// generation requests with a per-persona canned line. Selection requests are
// the ones without a system prompt.
type scriptedClient struct {
	mu          sync.Mutex
	selectReply string
	selectErr   error
	genReplies  map[string]string
	genErrs     map[string]error
	genErr      error
	calls       int
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++

	if req.System == "" {
		if c.selectErr != nil {
			return "", c.selectErr
		}
		return c.selectReply, nil
	}
	if c.genErr != nil {
		return "", c.genErr
	}
	for name, err := range c.genErrs {
		if strings.HasPrefix(req.System, "You ARE "+name+".") {
			return "", err
		}
	}
	for name, reply := range c.genReplies {
		if strings.HasPrefix(req.System, "You ARE "+name+".") {
			return reply, nil
		}
	}
	return "no opinion either way.", nil
}

func (c *scriptedClient) Name() string { return "scripted" }

func testConfig() config.Config {
	return config.Config{
		AppEnv:              "test",
		QuestionMaxLen:      2000,
		CORSAllowedOrigins:  []string{"*"},
		RequestBodyMaxBytes: 1 << 20,
		APIRequestTimeout:   30 * time.Second,
	}
}

func newTestServer(t *testing.T, client llm.Client) *Server {
	t.Helper()

	cat, err := catalog.Parse([]byte(testAudienceConfig))
	if err != nil {
		t.Fatalf("parse audience config: %v", err)
	}

	logger := observability.NewLoggerWithWriter("api-test", io.Discard)
	metrics := observability.NewAPIMetrics()
	eng := engine.New(cat, client, logger, metrics, engine.DefaultOptions())
	return New(testConfig(), cat, eng, logger, metrics)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{selectReply: "[]"})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body)
	}
}

func TestReadyzReportsLoadedCatalog(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{selectReply: "[]"})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpointRendersPrometheusText(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{selectReply: `["Marcus Webb", "Jennifer Cole"]`})
	router := srv.Router()

	ask := doJSON(t, router, http.MethodPost, "/audiences/premium_chocolate/ask", askRequest{Question: "First impressions?"})
	if ask.Code != http.StatusOK {
		t.Fatalf("seed request failed with %d: %s", ask.Code, ask.Body.String())
	}

	rec := doJSON(t, router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != metricsContentType {
		t.Fatalf("unexpected content type %q", got)
	}
	for _, series := range []string{"http_requests_total", "llm_provider_calls_total", "group_responders_total"} {
		if !strings.Contains(rec.Body.String(), series) {
			t.Fatalf("metrics output is missing %q:\n%s", series, rec.Body.String())
		}
	}
}

func TestListAudiences(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{selectReply: "[]"})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/audiences", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Audiences []audienceSummary `json:"audiences"`
	}
	decodeBody(t, rec, &body)
	if len(body.Audiences) != 1 {
		t.Fatalf("expected 1 audience, got %d", len(body.Audiences))
	}
	got := body.Audiences[0]
	if got.ID != "premium_chocolate" || got.PersonaCount != 3 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestGetAudienceDetail(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{selectReply: "[]"})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/audiences/premium_chocolate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body audienceDetail
	decodeBody(t, rec, &body)
	if body.Category != "premium chocolate" || len(body.Personas) != 3 {
		t.Fatalf("unexpected detail: %+v", body)
	}
	if body.Personas[0].Name != "Marcus Webb" || body.Personas[0].Backstory == "" {
		t.Fatalf("persona summary is incomplete: %+v", body.Personas[0])
	}
}

func TestGetAudienceNotFound(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{selectReply: "[]"})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/audiences/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAskGroupReturnsResponsesAndHistory(t *testing.T) {
	client := &scriptedClient{
		selectReply: `["Jennifer Cole", "Marcus Webb"]`,
		genReplies: map[string]string{
			"Marcus Webb":   "the packaging reads premium to me.",
			"Jennifer Cole": "honestly I'd grab it after a long shift.",
		},
	}
	srv := newTestServer(t, client)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/audiences/premium_chocolate/ask", askRequest{
		Question: "What do you think of the new bar?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body askGroupResponse
	decodeBody(t, rec, &body)
	if len(body.Responses) != 2 {
		t.Fatalf("expected 2 responses, got %+v", body.Responses)
	}
	if body.Responses[0].PersonaID != 2 || body.Responses[1].PersonaID != 1 {
		t.Fatalf("responses are not in selection order: %+v", body.Responses)
	}
	if len(body.History) != 3 {
		t.Fatalf("expected moderator turn plus 2 persona turns, got %d", len(body.History))
	}
	if body.History[0].Role != engine.RoleModerator || body.History[0].Text != "What do you think of the new bar?" {
		t.Fatalf("unexpected moderator turn: %+v", body.History[0])
	}
}

func TestAskGroupThreadsHistoryThrough(t *testing.T) {
	client := &scriptedClient{
		selectReply: `["David Okafor"]`,
		genReplies:  map[string]string{"David Okafor": "I'd want to know where the beans come from."},
	}
	srv := newTestServer(t, client)

	prior := []engine.Message{
		engine.ModeratorMessage("Round one."),
		engine.PersonaMessage(1, "Marcus Webb", "I liked it."),
	}
	rec := doJSON(t, srv.Router(), http.MethodPost, "/audiences/premium_chocolate/ask", askRequest{
		Question: "Anything you'd change?",
		History:  prior,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body askGroupResponse
	decodeBody(t, rec, &body)
	if len(body.History) < len(prior)+2 {
		t.Fatalf("history was not extended: %+v", body.History)
	}
	for i := range prior {
		if body.History[i] != prior[i] {
			t.Fatalf("history prefix changed at %d: got %+v want %+v", i, body.History[i], prior[i])
		}
	}
}

func TestAskGroupUnknownAudience(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{selectReply: "[]"})
	rec := doJSON(t, srv.Router(), http.MethodPost, "/audiences/missing/ask", askRequest{Question: "Hello?"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAskGroupValidation(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{selectReply: "[]"})
	router := srv.Router()

	cases := []struct {
		name string
		body any
	}{
		{"empty question", askRequest{Question: "   "}},
		{"question too long", askRequest{Question: strings.Repeat("q", 2001)}},
		{"unknown field", map[string]any{"question": "hi", "mystery": true}},
		{"persona turn without id", askRequest{
			Question: "hi",
			History:  []engine.Message{{Role: engine.RolePersona, Text: "orphan"}},
		}},
		{"moderator turn with persona fields", askRequest{
			Question: "hi",
			History:  []engine.Message{{Role: engine.RoleModerator, Text: "x", PersonaID: 1, PersonaName: "Marcus Webb"}},
		}},
		{"bad role", askRequest{
			Question: "hi",
			History:  []engine.Message{{Role: "narrator", Text: "x"}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/audiences/premium_chocolate/ask", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAskPersonaDirectAddress(t *testing.T) {
	client := &scriptedClient{
		genReplies: map[string]string{"Jennifer Cole": "for me it's all about the first bite."},
	}
	srv := newTestServer(t, client)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/audiences/premium_chocolate/ask/2", askRequest{
		Question: "Jennifer, what matters most?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body askPersonaResponse
	decodeBody(t, rec, &body)
	if body.Response.PersonaID != 2 || body.Response.PersonaName != "Jennifer Cole" {
		t.Fatalf("unexpected responder: %+v", body.Response)
	}
	if len(body.History) != 2 {
		t.Fatalf("expected 2 new turns, got %+v", body.History)
	}
	if !strings.HasPrefix(body.History[0].Text, "[To Jennifer Cole] ") {
		t.Fatalf("moderator turn should record the addressee: %+v", body.History[0])
	}
}

func TestAskPersonaUnknownPersona(t *testing.T) {
	client := &scriptedClient{}
	srv := newTestServer(t, client)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/audiences/premium_chocolate/ask/99", askRequest{Question: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	client.mu.Lock()
	calls := client.calls
	client.mu.Unlock()
	if calls != 0 {
		t.Fatalf("unknown persona must not reach the provider, got %d calls", calls)
	}
}

func TestAskPersonaBadIDIsRejected(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{})
	for _, raw := range []string{"zero", "-1", "0", "1.5"} {
		rec := doJSON(t, srv.Router(), http.MethodPost, "/audiences/premium_chocolate/ask/"+raw, askRequest{Question: "hi"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("persona id %q: expected 400, got %d", raw, rec.Code)
		}
	}
}

func TestAskPersonaProviderFailureMapsToBadGateway(t *testing.T) {
	client := &scriptedClient{genErr: errors.New("upstream exploded")}
	srv := newTestServer(t, client)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/audiences/premium_chocolate/ask/1", askRequest{Question: "hi"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAskGroupIsolatedFailureStillSucceeds(t *testing.T) {
	client := &scriptedClient{
		selectReply: `["Marcus Webb", "Jennifer Cole"]`,
		genReplies:  map[string]string{"Marcus Webb": "still thinking about the texture."},
		genErrs:     map[string]error{"Jennifer Cole": errors.New("rate limited")},
	}
	srv := newTestServer(t, client)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/audiences/premium_chocolate/ask", askRequest{Question: "Texture?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body askGroupResponse
	decodeBody(t, rec, &body)
	if len(body.Responses) != 1 || body.Responses[0].PersonaID != 1 {
		t.Fatalf("expected Marcus alone to answer, got %+v", body.Responses)
	}
	if len(body.Errors) != 1 || body.Errors[0].PersonaID != 2 {
		t.Fatalf("expected one failure marker for Jennifer, got %+v", body.Errors)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{selectReply: "[]"})
	rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", nil)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing nosniff header, got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("missing frame options header, got %q", got)
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{selectReply: "[]"})

	cfg := testConfig()
	cfg.RequestBodyMaxBytes = 64
	srv.cfg = cfg
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/audiences/premium_chocolate/ask", askRequest{
		Question: strings.Repeat("a", 256),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}
