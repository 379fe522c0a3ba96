package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrLoginFailed = errors.New("login failed")

const loginPath = "/rest/login"

// Credentials are the connection server login fields.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges credentials for a bearer token.
func Login(ctx context.Context, c *Client, creds Credentials) (string, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal login payload: %w", err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "*/*",
	}
	status, body, err := c.Post(ctx, loginPath, headers, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if !OK(status) {
		return "", fmt.Errorf("%w: api returned status code %d", ErrLoginFailed, status)
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", ErrLoginFailed, err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: response did not contain an access token", ErrLoginFailed)
	}
	return resp.AccessToken, nil
}
