package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/replyforge-ai/replyforge-cli/internal/errdefs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, Token: "test-token"})
}

func TestGetCreditStatus(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/credits/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(CreditStatus{
			Balance:      CreditBalance{Available: 7, Total: 10, Used: 3},
			Plan:         "pro",
			Features:     []string{"generate", "bulk_positive"},
			MaxBulkItems: 50,
		})
	})

	status, err := c.GetCreditStatus(context.Background())
	if err != nil {
		t.Fatalf("GetCreditStatus: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if status.Balance.Available != 7 || !status.HasFeature("bulk_positive") {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.HasFeature("bulk_full") {
		t.Error("HasFeature returned true for a missing feature")
	}
}

func TestCreateGenerationJobSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req JobRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ReviewID != "rev-1" || req.Rating != 5 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(JobResponse{Success: true, JobID: "J1", NewCreditBalance: 9})
	})

	resp, err := c.CreateGenerationJob(context.Background(), JobRequest{
		SystemPrompt: "sys", UserPrompt: "user", ReviewID: "rev-1", Rating: 5,
	})
	if err != nil {
		t.Fatalf("CreateGenerationJob: %v", err)
	}
	if resp.JobID != "J1" || resp.NewCreditBalance != 9 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   errdefs.Kind
	}{
		{"insufficient credits", http.StatusPaymentRequired, `{"error":"INSUFFICIENT_CREDITS"}`, errdefs.KindInsufficientCredits},
		{"trial already used", http.StatusForbidden, `{"error":"TRIAL_ALREADY_USED","message":"trial reply already generated"}`, errdefs.KindTrialAlreadyUsed},
		{"feature gate", http.StatusForbidden, `{"error":"FEATURE_NOT_ENTITLED"}`, errdefs.KindFeatureNotEntitled},
		{"unauthorized", http.StatusUnauthorized, `{}`, errdefs.KindUnauthenticated},
		{"server error", http.StatusInternalServerError, `boom`, errdefs.KindTransport},
		{"bad gateway", http.StatusBadGateway, `{}`, errdefs.KindTransport},
		{"rate limited", http.StatusTooManyRequests, `{}`, errdefs.KindTransport},
		{"bad request", http.StatusBadRequest, `{"error":"BAD_PROMPT"}`, errdefs.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.CreateGenerationJob(context.Background(), JobRequest{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errdefs.KindOf(err); got != tt.kind {
				t.Errorf("kind = %v, want %v (err: %v)", got, tt.kind, err)
			}
		})
	}
}

func TestTransportErrorOnConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := NewClient(ClientConfig{BaseURL: srv.URL, Token: "t"})
	srv.Close() // refuse subsequent connections

	err := c.Ping(context.Background())
	if errdefs.KindOf(err) != errdefs.KindTransport {
		t.Errorf("expected transport kind, got %v", err)
	}
}

func TestConsumeCredits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ConsumeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.RequestID == "" || req.ItemCount != 1 {
			t.Errorf("unexpected consume request: %+v", req)
		}
		json.NewEncoder(w).Encode(ConsumeResponse{Success: true, Remaining: 4})
	})

	resp, err := c.ConsumeCredits(context.Background(), ConsumeRequest{
		RequestID: "req-1", OperationType: "generate", ItemCount: 1,
	})
	if err != nil {
		t.Fatalf("ConsumeCredits: %v", err)
	}
	if !resp.Success || resp.Remaining != 4 {
		t.Errorf("unexpected response: %+v", resp)
	}
}
