package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/config"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/llm"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/orchestrator"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/pricing"
)

type fixedProvider struct{}

func (fixedProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	if strings.Contains(req.System, "triage") {
		return &llm.Response{
			Content: `{"urgency":"medium","category":"help","route_to":["support"],"action":"assist","confidence":0.9}`,
			Model:   "stub-model", TotalTokens: 10,
		}, nil
	}
	return &llm.Response{
		Content: `{"intent":"assist","entities":[],"suggested_action":"try again"}`,
		Model:   "stub-model", TotalTokens: 10,
	}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Provider:   config.ProviderConfig{Model: "stub-model", Timeout: time.Second},
		Classifier: config.ClassifierConfig{CacheCapacity: 100},
		Router:     config.RouterConfig{Concurrency: 2, DispatchTimeout: time.Second, MaxRetries: 1, RetryBackoff: 10 * time.Millisecond},
		Health:     config.HealthConfig{CheckInterval: time.Hour, ProbeTimeout: time.Second, LatencyWarning: time.Second, ErrorRateAlert: 0.5, MaxRecoveryRetries: 2, HistoryRetention: time.Hour},
		Tokens:     config.TokensConfig{SnapshotInterval: time.Hour},
		Errors:     config.ErrorsConfig{StormWindow: time.Minute, StormThreshold: 100},
	}

	table, err := pricing.Load(t.TempDir() + "/models.yaml")
	require.NoError(t, err)

	manager := orchestrator.NewManager(cfg, fixedProvider{}, nil, nil, nil, table, zaptest.NewLogger(t))
	require.NoError(t, manager.Initialize(context.Background()))
	t.Cleanup(manager.Shutdown)

	mux := http.NewServeMux()
	NewMessagesHandler(manager, zaptest.NewLogger(t)).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitAndQueryMessage(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/messages", "application/json",
		strings.NewReader(`{"user_id":"u1","user_name":"Sam","content":"how do I deploy?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.NotEmpty(t, accepted.MessageID)

	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/v1/messages/" + accepted.MessageID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return false
		}
		return body.Status == "processed"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/messages", "application/json",
		strings.NewReader(`{"user_name":"Sam"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "submission_failed", body.Error.Kind)
}

func TestUnknownMessageIs404(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/messages/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Initialized bool              `json:"initialized"`
		Agents      map[string]string `json:"agents"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Initialized)
	assert.Len(t, body.Agents, 4)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
