package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"courtline/server/internal/logging"
)

// MatchReport summarises one finished session for the stats backend.
type MatchReport struct {
	GameID      string    `json:"game_id"`
	Mode        string    `json:"mode"`
	Player1ID   string    `json:"player1_id,omitempty"`
	Player1Name string    `json:"player1_name"`
	Player1Pts  int       `json:"player1_score"`
	Player2ID   string    `json:"player2_id,omitempty"`
	Player2Name string    `json:"player2_name"`
	Player2Pts  int       `json:"player2_score"`
	WinnerID    string    `json:"winner_id,omitempty"`
	WinnerName  string    `json:"winner_name"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Reporter delivers match reports to an external collector.
type Reporter interface {
	Report(ctx context.Context, report MatchReport) error
}

// HTTPReporter POSTs compressed JSON reports to a stats endpoint.
type HTTPReporter struct {
	endpoint string
	client   *http.Client
	codec    Compressor
	logger   *logging.Logger
}

// NewHTTPReporter wires a reporter against the configured endpoint.
func NewHTTPReporter(endpoint string, codec Compressor, logger *logging.Logger) *HTTPReporter {
	if logger == nil {
		logger = logging.L()
	}
	return &HTTPReporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		codec:    codec,
		logger:   logger,
	}
}

// Report serialises, compresses, and delivers one match report. Failures are
// logged and returned without retry so the game loop never blocks on stats.
func (r *HTTPReporter) Report(ctx context.Context, report MatchReport) error {
	//1.- Serialise the report before touching the network.
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	body, err := r.codec.Compress(payload)
	if err != nil {
		return fmt.Errorf("compress report: %w", err)
	}
	//2.- Deliver the compressed payload with the codec advertised in the headers.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", r.codec.Name())
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("stats report delivery failed",
			logging.String("game_id", report.GameID), logging.Error(err))
		return fmt.Errorf("deliver report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("stats endpoint rejected report",
			logging.String("game_id", report.GameID), logging.Int("status", resp.StatusCode))
		return fmt.Errorf("stats endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// NopReporter discards reports. Used when no stats endpoint is configured.
type NopReporter struct{}

// Report accepts and drops the report.
func (NopReporter) Report(context.Context, MatchReport) error { return nil }
