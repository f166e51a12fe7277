package uploader

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ecoaudit/voicenote/internal/uploader"
)

type HTTPUploader struct {
	uploadURL string
	token     string
	client    *http.Client
}

func NewHTTPUploader(uploadURL, token string) uploader.Uploader {
	return &HTTPUploader{
		uploadURL: uploadURL,
		token:     token,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, artifact uploader.Artifact) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"session_id":   artifact.SessionID,
		"context_id":   artifact.ContextID,
		"encoding":     artifact.Encoding,
		"display_name": artifact.DisplayName,
		"description":  artifact.Description,
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("%w: %v", uploader.ErrPermanent, err)
		}
	}
	part, err := writer.CreateFormFile("file", fmt.Sprintf("recording-%s.bin", artifact.SessionID))
	if err != nil {
		return fmt.Errorf("%w: %v", uploader.ErrPermanent, err)
	}
	if _, err := part.Write(artifact.Data); err != nil {
		return fmt.Errorf("%w: %v", uploader.ErrPermanent, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("%w: %v", uploader.ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, &body)
	if err != nil {
		return fmt.Errorf("%w: %v", uploader.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		// Network errors and timeouts are worth retrying.
		return fmt.Errorf("%w: %v", uploader.ErrTransient, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: upload returned status %d", uploader.ErrTransient, resp.StatusCode)
	default:
		return fmt.Errorf("%w: upload returned status %d", uploader.ErrPermanent, resp.StatusCode)
	}
}
