package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/bobarin/montage/internal/models"
)

// downloadClient has a longer timeout than the API clients since media can be large.
var downloadClient = &http.Client{Timeout: 120 * time.Second}

// fetchMedia downloads bytes from a provider-hosted URL. Failures are classified
// so the orchestrator can decide whether to retry.
func fetchMedia(ctx context.Context, provider, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", mediaURL, nil)
	if err != nil {
		return nil, "", models.Permanent(provider, fmt.Errorf("failed to create download request: %w", err))
	}

	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, "", models.Transient(provider, fmt.Errorf("download request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", ClassifyHTTPStatus(provider, resp, body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", models.Transient(provider, fmt.Errorf("failed to read media: %w", err))
	}
	if len(data) == 0 {
		return nil, "", models.Transient(provider, fmt.Errorf("downloaded media is empty (0 bytes)"))
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return data, contentType, nil
}

// mediaPath builds the storage key for a generated asset:
// generated/{provider}/{scene}/{handle}.{ext}
func mediaPath(provider, sceneID, handleID, ext string) string {
	safe := strings.NewReplacer("/", "_", " ", "_").Replace(handleID)
	return path.Join("generated", provider, sceneID, safe+"."+ext)
}
