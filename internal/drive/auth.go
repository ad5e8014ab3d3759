package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// tokenPath is the internal-app token exchange endpoint. The response is
// flat (not wrapped in the usual data envelope).
const tokenPath = "/open-apis/auth/v3/tenant_access_token/internal"

// Token is a tenant access token with its absolute expiry.
type Token struct {
	Value    string
	ExpireAt time.Time
}

// FetchTenantToken exchanges app credentials for a tenant access token.
// baseURL selects the platform host. A non-zero code in the body is a
// failure even on HTTP 200.
func FetchTenantToken(ctx context.Context, httpClient *http.Client, baseURL, appID, appSecret string) (Token, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	payload, err := json.Marshal(map[string]string{
		"app_id":     appID,
		"app_secret": appSecret,
	})
	if err != nil {
		return Token{}, fmt.Errorf("drive: encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return Token{}, fmt.Errorf("drive: creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("drive: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("drive: reading token response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Token{}, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	var parsed struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int64  `json:"expire"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return Token{}, fmt.Errorf("drive: parsing token response: %w", err)
	}

	if parsed.Code != 0 {
		msg := parsed.Msg
		if msg == "" {
			msg = "获取 token 失败"
		}

		return Token{}, &APIError{Code: parsed.Code, Message: msg, Err: ErrAPICode}
	}

	return Token{
		Value:    parsed.TenantAccessToken,
		ExpireAt: time.Now().UTC().Add(time.Duration(parsed.Expire) * time.Second),
	}, nil
}
