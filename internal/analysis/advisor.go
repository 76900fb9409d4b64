// Package analysis is the advisory hook: an external service that comments
// on a full ballot before it is revealed. The hook is best-effort; callers
// swallow every failure and simply omit the broadcast.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agilecards/agilecards/internal/models"
)

// Analysis is the advisory verdict for one round's ballot.
type Analysis struct {
	Analysis      string         `json:"analysis"`
	VoteSummary   map[string]int `json:"voteSummary"`
	TotalVotes    int            `json:"totalVotes"`
	RequiredVotes int            `json:"requiredVotes"`
}

// Advisor produces an analysis for a full ballot.
type Advisor interface {
	RequestAnalysis(ctx context.Context, roomCode string, taskIndex int, votes []models.Vote, playerCount int) (*Analysis, error)
}

// Client calls an HTTP advisory endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates an advisory Client against baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type analysisRequest struct {
	Room      string            `json:"room"`
	TaskIndex int               `json:"taskIndex"`
	Votes     map[string]string `json:"votes"`
}

type analysisResponse struct {
	Analysis string `json:"analysis"`
}

// RequestAnalysis posts the ballot to the advisory endpoint and returns its
// verdict together with the vote summary the broadcast carries.
func (c *Client) RequestAnalysis(ctx context.Context, roomCode string, taskIndex int, votes []models.Vote, playerCount int) (*Analysis, error) {
	summary := make(map[string]int, len(votes))
	byUser := make(map[string]string, len(votes))
	for _, v := range votes {
		summary[v.Value]++
		byUser[v.Username] = v.Value
	}

	payload, err := json.Marshal(analysisRequest{Room: roomCode, TaskIndex: taskIndex, Votes: byUser})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call analysis service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("analysis service returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed analysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode analysis response: %w", err)
	}

	return &Analysis{
		Analysis:      parsed.Analysis,
		VoteSummary:   summary,
		TotalVotes:    len(votes),
		RequiredVotes: playerCount,
	}, nil
}

// Nop is an Advisor for deployments with no analysis endpoint configured.
type Nop struct{}

// RequestAnalysis always reports that no analysis is available.
func (Nop) RequestAnalysis(context.Context, string, int, []models.Vote, int) (*Analysis, error) {
	return nil, nil
}
