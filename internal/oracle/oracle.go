package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/zaqqye/proctor_backend_v1/internal/models"
)

// ErrUnavailable covers every way the oracle can fail: transport errors,
// non-200 statuses and malformed payloads. Callers must treat it as a
// transient fault, never as a favorable reading.
var ErrUnavailable = errors.New("risk oracle unavailable")

const maxResponseBytes = 1 << 20

// Fragment is the normalized result of one assessment.
type Fragment struct {
	FaceStatus    models.FaceStatus
	FaceCount     int
	HeadDirection models.HeadDirection
	LookingAway   bool
	CheatingScore int
	RiskLevel     models.RiskLevel
}

// Client composes the oracle's three endpoints (face check, gaze check,
// score update) into a single assessment. If any call fails the whole
// assessment fails.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    &http.Client{},
	}
}

type faceResponse struct {
	Status    string `json:"status"`
	FaceCount int    `json:"face_count"`
}

type eyesResponse struct {
	HeadDirection string `json:"head_direction"`
	LookingAway   bool   `json:"looking_away"`
}

type scoreResponse struct {
	CheatingScore float64 `json:"cheating_score"`
	RiskLevel     string  `json:"risk_level"`
}

// Assess runs the three-call composition for one frame. tabSwitches is the
// server-reconciled cumulative count at the time of the probe.
func (c *Client) Assess(ctx context.Context, image string, tabSwitches int) (Fragment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var face faceResponse
	if err := c.post(ctx, "/api/face/detect-face", map[string]any{"image": image}, faceSchema, &face); err != nil {
		return Fragment{}, err
	}

	var eyes eyesResponse
	if err := c.post(ctx, "/api/eyes/detect-eyes", map[string]any{"image": image}, eyesSchema, &eyes); err != nil {
		return Fragment{}, err
	}

	var score scoreResponse
	body := map[string]any{
		"face_count":   face.FaceCount,
		"looking_away": eyes.LookingAway,
		"tab_switches": tabSwitches,
	}
	if err := c.post(ctx, "/api/cheating/update-score", body, scoreSchema, &score); err != nil {
		return Fragment{}, err
	}

	return Fragment{
		FaceStatus:    models.FaceStatus(face.Status),
		FaceCount:     face.FaceCount,
		HeadDirection: models.HeadDirection(eyes.HeadDirection),
		LookingAway:   eyes.LookingAway,
		CheatingScore: int(math.Round(score.CheatingScore)),
		RiskLevel:     models.RiskLevel(score.RiskLevel),
	}, nil
}

// post sends one JSON request and decodes the response only after it passes
// the endpoint's schema, so shape drift fails here instead of propagating
// undefined fields downstream.
func (c *Client) post(ctx context.Context, path string, body any, schema *schemaValidator, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode %s request: %v", ErrUnavailable, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", ErrUnavailable, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrUnavailable, path, resp.StatusCode)
	}

	if err := schema.validate(raw); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, path, err)
	}
	return nil
}
