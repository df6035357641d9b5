package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/filingdesk/filingdesk/internal/domain"
)

// Compile-time check: SubmitClient implements domain.Submitter.
var _ domain.Submitter = (*SubmitClient)(nil)

// SubmitClient performs the terminal POST to the per-service submission
// endpoint.
type SubmitClient struct {
	baseURL string
	client  *http.Client
}

// NewSubmitClient creates a client for submission endpoints under baseURL.
// Each service posts to baseURL/{serviceID}.
func NewSubmitClient(baseURL string) *SubmitClient {
	return &SubmitClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type submitResponse struct {
	SubmissionID string `json:"submissionId"`
	Status       string `json:"status"`
}

// Submit posts the payload once and returns the endpoint's receipt. Any
// transport or non-2xx outcome is an error; the caller decides whether the
// draft moves to failed, never this client.
func (c *SubmitClient) Submit(ctx context.Context, serviceID string, payload domain.SubmissionPayload) (domain.SubmissionReceipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.SubmissionReceipt{}, fmt.Errorf("encoding submission: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+serviceID, bytes.NewReader(body))
	if err != nil {
		return domain.SubmissionReceipt{}, fmt.Errorf("building submission request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domain.SubmissionReceipt{}, fmt.Errorf("posting submission: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.SubmissionReceipt{}, fmt.Errorf("submission endpoint returned %d: %s", resp.StatusCode, respBody)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.SubmissionReceipt{}, fmt.Errorf("decoding submission response: %w", err)
	}
	if out.SubmissionID == "" {
		out.SubmissionID = payload.SubmissionID
	}

	return domain.SubmissionReceipt{
		SubmissionID: out.SubmissionID,
		Status:       out.Status,
	}, nil
}
