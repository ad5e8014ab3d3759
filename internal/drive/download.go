package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// DownloadRange opens a streaming download of a file, starting at offset.
// An offset above zero sends a Range header so an interrupted download can
// be resumed byte-exact. The caller must close the returned body. The
// second return is the Content-Length of this response (the remaining
// bytes, not the full file size, when a range was requested); -1 when the
// server did not report one.
func (c *Client) DownloadRange(ctx context.Context, token string, offset int64) (io.ReadCloser, int64, error) {
	target, err := c.buildURL(fmt.Sprintf("/open-apis/drive/v1/files/%s/download", token), nil)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("drive: creating download request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("drive: download request: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if readErr != nil {
			body = []byte("(failed to read response body)")
		}

		return nil, 0, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	return resp.Body, resp.ContentLength, nil
}
