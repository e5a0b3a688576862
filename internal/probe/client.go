package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zaqqye/proctor_backend_v1/internal/models"
)

const maxResponseBytes = 1 << 20

// APIClient submits probes to the backend's analyze-frame endpoint.
type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type analyzeFramePayload struct {
	Image       string `json:"image"`
	SessionID   string `json:"session_id"`
	StudentID   string `json:"student_id,omitempty"`
	ExamID      string `json:"exam_id,omitempty"`
	TabSwitches int    `json:"tab_switches"`
}

func (c *APIClient) Record(ctx context.Context, sample Sample) (*models.Reading, error) {
	payload, err := json.Marshal(analyzeFramePayload{
		Image:       sample.Image,
		SessionID:   sample.SessionID,
		StudentID:   sample.StudentID,
		ExamID:      sample.ExamID,
		TabSwitches: sample.TabSwitches,
	})
	if err != nil {
		return nil, fmt.Errorf("encode probe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/proctor/analyze-frame", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit probe: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read probe response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var reading models.Reading
		if err := json.Unmarshal(body, &reading); err != nil {
			return nil, fmt.Errorf("decode probe response: %w", err)
		}
		return &reading, nil
	case http.StatusConflict:
		return nil, ErrSessionTerminated
	default:
		return nil, fmt.Errorf("probe rejected: status %d: %s", resp.StatusCode, string(body))
	}
}
