package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/filingdesk/filingdesk/internal/domain"
)

// Compile-time check: UploadClient implements domain.Uploader.
var _ domain.Uploader = (*UploadClient)(nil)

// UploadClient pushes spooled files to the external upload service as
// multipart POSTs.
type UploadClient struct {
	baseURL string
	client  *http.Client
}

// NewUploadClient creates a client for the upload service at baseURL.
func NewUploadClient(baseURL string) *UploadClient {
	return &UploadClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type uploadResponse struct {
	ID           string `json:"id"`
	FileURL      string `json:"fileUrl"`
	OriginalName string `json:"originalName"`
}

// Upload sends one file and returns the service's stable descriptor for it.
func (c *UploadClient) Upload(ctx context.Context, req domain.UploadRequest) (domain.UploadResult, error) {
	f, err := os.Open(req.SpoolPath)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("opening spooled file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", req.Filename)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = form.WriteField("category", req.Category)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("building upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("posting upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.UploadResult{}, fmt.Errorf("upload service returned %d: %s", resp.StatusCode, body)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.UploadResult{}, fmt.Errorf("decoding upload response: %w", err)
	}
	if out.FileURL == "" {
		return domain.UploadResult{}, fmt.Errorf("upload service response missing fileUrl")
	}

	return domain.UploadResult{
		ID:           out.ID,
		FileURL:      out.FileURL,
		OriginalName: out.OriginalName,
	}, nil
}
