package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agape-peninsula/counsel-api/internal/adapters/llm"
	"github.com/agape-peninsula/counsel-api/internal/domain"
)

func completionServer(t *testing.T, status int, reply string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]string{"role": "assistant", "content": reply}},
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "nope"}})
	}))
}

func TestGetReplyReturnsContent(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "You are doing better than you think.")
	defer srv.Close()

	client := llm.NewOpenAIClient(srv.URL, "test-key", "gpt-3.5-turbo")
	got, err := client.GetReply(context.Background(), "I feel stuck", domain.ReplyContext{
		Track:    domain.TrackGeneral,
		UserType: domain.UserTypeStudent,
	})
	if err != nil {
		t.Fatalf("GetReply failed: %v", err)
	}
	if got != "You are doing better than you think." {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestStatusCodeClassification(t *testing.T) {
	cases := []struct {
		status int
		want   domain.OracleErrorKind
	}{
		{http.StatusUnauthorized, domain.OracleUnauthorized},
		{http.StatusTooManyRequests, domain.OracleRateLimited},
		{http.StatusPaymentRequired, domain.OracleQuotaExhausted},
		{http.StatusInternalServerError, domain.OracleTransient},
		{http.StatusBadRequest, domain.OracleTransient},
	}

	for _, tc := range cases {
		srv := completionServer(t, tc.status, "")
		client := llm.NewOpenAIClient(srv.URL, "test-key", "")

		_, err := client.GetReply(context.Background(), "hello", domain.ReplyContext{Track: domain.TrackGeneral})
		srv.Close()

		var oerr *domain.OracleError
		if !errors.As(err, &oerr) {
			t.Fatalf("status %d: expected OracleError, got %v", tc.status, err)
		}
		if oerr.Kind != tc.want {
			t.Fatalf("status %d: expected kind %s, got %s", tc.status, tc.want, oerr.Kind)
		}
	}
}

func TestMissingKeyIsUnconfigured(t *testing.T) {
	for _, key := range []string{"", "your-openai-api-key"} {
		client := llm.NewOpenAIClient("http://127.0.0.1:0", key, "")

		if client.Configured() {
			t.Fatalf("key %q must not count as configured", key)
		}

		_, err := client.GetReply(context.Background(), "hello", domain.ReplyContext{Track: domain.TrackGeneral})
		var oerr *domain.OracleError
		if !errors.As(err, &oerr) || oerr.Kind != domain.OracleUnconfigured {
			t.Fatalf("key %q: expected unconfigured error, got %v", key, err)
		}
	}
}

func TestUnreachableEndpointIsTransient(t *testing.T) {
	// Closed server: the transport error must classify as transient.
	srv := completionServer(t, http.StatusOK, "hi")
	srv.Close()

	client := llm.NewOpenAIClient(srv.URL, "test-key", "")
	err := client.Ping(context.Background())

	var oerr *domain.OracleError
	if !errors.As(err, &oerr) || oerr.Kind != domain.OracleTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestEmptyChoicesIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := llm.NewOpenAIClient(srv.URL, "test-key", "")
	_, err := client.GetReply(context.Background(), "hello", domain.ReplyContext{Track: domain.TrackGeneral})

	var oerr *domain.OracleError
	if !errors.As(err, &oerr) || oerr.Kind != domain.OracleTransient {
		t.Fatalf("expected transient error on empty choices, got %v", err)
	}
}

func TestEmptyModelUsesBackendDefault(t *testing.T) {
	var captured struct {
		Model string `json:"model"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := llm.NewOpenAIClient(srv.URL, "test-key", "")
	if _, err := client.GetReply(context.Background(), "hello", domain.ReplyContext{Track: domain.TrackGeneral}); err != nil {
		t.Fatalf("GetReply failed: %v", err)
	}
	if captured.Model != "gpt-3.5-turbo" {
		t.Fatalf("expected backend default model, got %q", captured.Model)
	}
}

func TestHistoryRolesInPayload(t *testing.T) {
	var captured struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := llm.NewOpenAIClient(srv.URL, "test-key", "")
	_, err := client.GetReply(context.Background(), "latest", domain.ReplyContext{
		Track: domain.TrackBiblical,
		History: []*domain.Message{
			{Sender: domain.SenderUser, Body: "first"},
			{Sender: domain.SenderAI, Body: "reply"},
		},
	})
	if err != nil {
		t.Fatalf("GetReply failed: %v", err)
	}

	roles := make([]string, 0, len(captured.Messages))
	for _, m := range captured.Messages {
		roles = append(roles, m.Role)
	}
	want := []string{"system", "user", "assistant", "user"}
	if len(roles) != len(want) {
		t.Fatalf("expected roles %v, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("expected roles %v, got %v", want, roles)
		}
	}
	if captured.Messages[len(captured.Messages)-1].Content != "latest" {
		t.Fatalf("new message must be last in payload")
	}
}
