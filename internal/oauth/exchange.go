package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Tokens is a successful token endpoint response.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

type tokenResponse struct {
	Tokens
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type exchangeRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	State        string `json:"state"`
}

const maxTokenResponse = 1 << 20

// exchange trades an authorization code for tokens. The token endpoint
// takes a JSON body, which x/oauth2 cannot send, so this is a plain POST.
func (f *Flow) exchange(ctx context.Context, code string, sess *Session) (*Tokens, error) {
	body, err := json.Marshal(exchangeRequest{
		GrantType:    "authorization_code",
		ClientID:     f.conf.ClientID,
		Code:         code,
		RedirectURI:  f.conf.RedirectURL,
		CodeVerifier: sess.Verifier,
		State:        sess.State,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.conf.Endpoint.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Referer", "https://claude.ai/")
	req.Header.Set("Origin", "https://claude.ai")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("Failed to parse token response: %s", truncate(raw, 200))
	}
	if tr.Error != "" {
		if tr.ErrorDescription != "" {
			return nil, errors.New(tr.ErrorDescription)
		}
		return nil, errors.New(tr.Error)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned %d without an access token", resp.StatusCode)
	}
	return &tr.Tokens, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
