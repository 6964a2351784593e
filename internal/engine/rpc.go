package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RPCClient talks JSON-RPC to the signing submitter sidecar. The
// sidecar owns keys and transaction assembly; the engine only ever
// sees opaque references and signatures.
type RPCClient struct {
	url  string
	http *http.Client
	log  *zap.Logger
}

func NewRPCClient(url string, timeout time.Duration, log *zap.Logger) *RPCClient {
	return &RPCClient{
		url: url,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type wireInstruction struct {
	Program  string   `json:"program"`
	Accounts []string `json:"accounts,omitempty"`
	Data     []byte   `json:"data"`
}

type wireSubmission struct {
	Reference    string            `json:"reference"`
	ClientRef    string            `json:"client_ref"`
	UnitLimit    uint32            `json:"unit_limit"`
	PriorityFee  uint64            `json:"priority_fee"`
	Instructions []wireInstruction `json:"instructions"`
}

func (c *RPCClient) LatestReference(ctx context.Context) (string, error) {
	var ref string
	if err := c.call(ctx, "latestReference", nil, &ref); err != nil {
		return "", err
	}
	return ref, nil
}

func (c *RPCClient) Simulate(ctx context.Context, sub Submission) (SimulationResult, error) {
	var out struct {
		UnitsConsumed uint64 `json:"units_consumed"`
		Err           string `json:"err,omitempty"`
	}
	if err := c.call(ctx, "simulate", toWire(sub), &out); err != nil {
		return SimulationResult{}, err
	}
	return SimulationResult{UnitsConsumed: out.UnitsConsumed, Err: out.Err}, nil
}

func (c *RPCClient) Send(ctx context.Context, sub Submission) (string, error) {
	var sig string
	if err := c.call(ctx, "send", toWire(sub), &sig); err != nil {
		if strings.Contains(err.Error(), "stale reference") {
			return "", fmt.Errorf("%w: %v", ErrStaleReference, err)
		}
		return "", err
	}
	return sig, nil
}

func (c *RPCClient) Confirm(ctx context.Context, signature string) error {
	var out struct {
		Confirmed bool   `json:"confirmed"`
		Err       string `json:"err,omitempty"`
	}
	if err := c.call(ctx, "confirm", map[string]string{"signature": signature}, &out); err != nil {
		return err
	}
	if !out.Confirmed {
		if out.Err != "" {
			return fmt.Errorf("confirm %s: %s", signature, out.Err)
		}
		return fmt.Errorf("confirm %s: not confirmed", signature)
	}
	return nil
}

func (c *RPCClient) LookupReference(ctx context.Context, clientRef string) (string, bool, error) {
	var out struct {
		Signature string `json:"signature"`
		Found     bool   `json:"found"`
	}
	if err := c.call(ctx, "lookupReference", map[string]string{"client_ref": clientRef}, &out); err != nil {
		return "", false, err
	}
	return out.Signature, out.Found, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params, result any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, result)
}

func toWire(sub Submission) wireSubmission {
	w := wireSubmission{
		Reference:   sub.Reference,
		ClientRef:   sub.ClientRef,
		UnitLimit:   sub.Budget.UnitLimit,
		PriorityFee: sub.Budget.PriorityFee,
	}
	for _, ins := range sub.Instructions {
		w.Instructions = append(w.Instructions, wireInstruction{
			Program:  ins.Program,
			Accounts: ins.Accounts,
			Data:     ins.Data,
		})
	}
	return w
}
