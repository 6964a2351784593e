package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func rpcServer(t *testing.T, handler func(method string, params json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestRPCClientLatestReference(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		if method != "latestReference" {
			t.Errorf("method = %s", method)
		}
		return "ref-abc", nil
	})
	defer server.Close()

	client := NewRPCClient(server.URL, time.Second, zap.NewNop())
	ref, err := client.LatestReference(context.Background())
	if err != nil {
		t.Fatalf("latest reference: %v", err)
	}
	if ref != "ref-abc" {
		t.Fatalf("ref = %q", ref)
	}
}

func TestRPCClientSendMapsStaleReference(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32001, Message: "stale reference: block expired"}
	})
	defer server.Close()

	client := NewRPCClient(server.URL, time.Second, zap.NewNop())
	_, err := client.Send(context.Background(), Submission{Reference: "ref-1", ClientRef: "a"})
	if !errors.Is(err, ErrStaleReference) {
		t.Fatalf("err = %v, want stale reference", err)
	}
}

func TestRPCClientConfirmFailure(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		return map[string]any{"confirmed": false, "err": "dropped"}, nil
	})
	defer server.Close()

	client := NewRPCClient(server.URL, time.Second, zap.NewNop())
	if err := client.Confirm(context.Background(), "sig-1"); err == nil {
		t.Fatalf("expected confirm error")
	}
}
