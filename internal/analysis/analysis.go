package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sol-portfolio-agent/internal/strategy"
)

// Request is the structured market view sent to the collaborator.
type Request struct {
	TotalValueUSD string             `json:"total_value_usd"`
	Allocations   map[string]float64 `json:"allocations"`
	Volatility    string             `json:"volatility"`
	Trend         string             `json:"trend"`
	TVLUSD        string             `json:"tvl_usd,omitempty"`
	VolumeUSD     string             `json:"volume_usd,omitempty"`
}

// Analysis is the bounded response shape. Anything beyond these fields
// is ignored.
type Analysis struct {
	Sentiment    string             `json:"sentiment"`
	Confidence   int                `json:"confidence"`
	Strategy     string             `json:"strategy"`
	Allocations  map[string]float64 `json:"allocations,omitempty"`
	RiskWarnings []string           `json:"risk_warnings,omitempty"`
}

// Analyzer produces a market analysis or fails; callers fall back to
// their own heuristic on any error.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Analysis, error)
}

type HTTPAnalyzer struct {
	url  string
	http *http.Client
	log  *zap.Logger
}

func NewHTTPAnalyzer(url string, timeout time.Duration, log *zap.Logger) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		url: url,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, req Request) (Analysis, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Analysis{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Analysis{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(httpReq)
	if err != nil {
		return Analysis{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Analysis{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var out Analysis
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out); err != nil {
		return Analysis{}, err
	}
	if out.Confidence < 0 || out.Confidence > 100 {
		return Analysis{}, fmt.Errorf("analysis confidence %d out of range", out.Confidence)
	}
	return out, nil
}

// Apply overlays an analysis onto a heuristic condition. The heuristic
// volatility regime is kept; trend, confidence, and strategy follow the
// collaborator when it answered with a known sentiment.
func Apply(cond strategy.MarketCondition, a Analysis) strategy.MarketCondition {
	switch a.Sentiment {
	case "bullish":
		cond.Trend = strategy.TrendBullish
	case "bearish":
		cond.Trend = strategy.TrendBearish
	case "neutral":
		cond.Trend = strategy.TrendNeutral
	default:
		return cond
	}
	cond.Confidence = a.Confidence
	if a.Strategy != "" {
		cond.Strategy = a.Strategy
	}
	return cond
}
