package media

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"Retoucher/core"
)

// Fetch downloads an image, reading at most one byte past the upload limit
// so oversized files are rejected by Validate.
func Fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, core.NewCollaboratorError("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.CollaboratorFailure("fetch", "unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxUploadSize+1))
	if err != nil {
		return nil, core.NewCollaboratorError("fetch", err)
	}
	return data, nil
}
