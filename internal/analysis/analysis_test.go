package analysis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"sol-portfolio-agent/internal/strategy"
)

func TestHTTPAnalyzerParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sentiment":"bearish","confidence":72,"strategy":"defensive","risk_warnings":["tvl dropping"]}`))
	}))
	defer server.Close()

	analyzer := NewHTTPAnalyzer(server.URL, time.Second, zap.NewNop())
	out, err := analyzer.Analyze(context.Background(), Request{Volatility: "moderate", Trend: "neutral"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if out.Sentiment != "bearish" || out.Confidence != 72 {
		t.Fatalf("unexpected analysis: %+v", out)
	}
	if len(out.RiskWarnings) != 1 {
		t.Fatalf("risk warnings = %v", out.RiskWarnings)
	}
}

func TestHTTPAnalyzerRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	analyzer := NewHTTPAnalyzer(server.URL, time.Second, zap.NewNop())
	if _, err := analyzer.Analyze(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error on 503")
	}
}

func TestHTTPAnalyzerRejectsOutOfRangeConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sentiment":"bullish","confidence":140}`))
	}))
	defer server.Close()

	analyzer := NewHTTPAnalyzer(server.URL, time.Second, zap.NewNop())
	if _, err := analyzer.Analyze(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error on confidence 140")
	}
}

func TestApplyOverridesTrendAndConfidence(t *testing.T) {
	cond := strategy.MarketCondition{
		Volatility: strategy.VolatilityModerate,
		Trend:      strategy.TrendNeutral,
		Confidence: 40,
		Strategy:   "balanced",
	}
	out := Apply(cond, Analysis{Sentiment: "bearish", Confidence: 80, Strategy: "defensive"})
	if out.Trend != strategy.TrendBearish {
		t.Fatalf("trend = %s", out.Trend)
	}
	if out.Confidence != 80 || out.Strategy != "defensive" {
		t.Fatalf("unexpected condition: %+v", out)
	}
	if out.Volatility != strategy.VolatilityModerate {
		t.Fatalf("volatility should stay heuristic, got %s", out.Volatility)
	}
}

func TestApplyIgnoresUnknownSentiment(t *testing.T) {
	cond := strategy.MarketCondition{Trend: strategy.TrendNeutral, Confidence: 40, Strategy: "balanced"}
	out := Apply(cond, Analysis{Sentiment: "sideways-ish", Confidence: 99})
	if out != cond {
		t.Fatalf("condition changed: %+v", out)
	}
}
