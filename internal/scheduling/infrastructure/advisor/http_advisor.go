// Package advisor implements the conflict advisor against an external LLM
// completion endpoint.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/diaguru/diaguru/internal/scheduling/application"
)

// HTTPAdvisor posts the conflict context to a JSON completion endpoint and
// expects the reply contract {action, message, slot?}. A circuit breaker
// stops hammering a dead endpoint; advisor failures never fail the
// scheduling request.
type HTTPAdvisor struct {
	endpoint string
	apiKey   string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[*application.AdvisorReply]
	logger   *slog.Logger
}

// NewHTTPAdvisor creates an advisor client. timeout bounds each call.
func NewHTTPAdvisor(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPAdvisor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    "conflict-advisor",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &HTTPAdvisor{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		breaker:  gobreaker.NewCircuitBreaker[*application.AdvisorReply](settings),
		logger:   logger,
	}
}

// Advise implements application.ConflictAdvisor.
func (a *HTTPAdvisor) Advise(ctx context.Context, input application.AdvisorInput) (*application.AdvisorReply, error) {
	return a.breaker.Execute(func() (*application.AdvisorReply, error) {
		return a.call(ctx, input)
	})
}

func (a *HTTPAdvisor) call(ctx context.Context, input application.AdvisorInput) (*application.AdvisorReply, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("advisor request failed: status=%d body=%s", resp.StatusCode, string(payload))
	}

	var reply application.AdvisorReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode advisor reply: %w", err)
	}
	switch reply.Action {
	case application.AdvisorActionSuggestSlot, application.AdvisorActionAskOverlap, application.AdvisorActionDefer:
	default:
		return nil, fmt.Errorf("advisor returned unknown action %q", reply.Action)
	}
	return &reply, nil
}
