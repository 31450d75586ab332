// Package authflow drives the GitHub device-flow login that produces a
// Profile. The device-flow authentication UI itself (prompting the user,
// opening a browser) is an external collaborator; this package exposes
// only the token-exchange interface that collaborator drives. Grounded
// on internal/auth/copilot/auth.go's GetDeviceCode /
// CopilotTokenResponse flow, reimplemented atop golang.org/x/oauth2's
// device-authorization support instead of hand-rolled HTTP calls.
package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/copilot-gateway/gateway/internal/profile"
	"golang.org/x/oauth2"
)

const (
	githubClientID   = "Iv1.b507a08c87ecfe98" // public device-flow client id used by Copilot-compatible clients
	githubAuthURL    = "https://github.com/login/oauth/authorize"
	githubTokenURL   = "https://github.com/login/oauth/access_token"
	githubDeviceURL  = "https://github.com/login/device/code"
	copilotTokenURL  = "https://api.github.com/copilot_internal/v2/token"
	githubAppScopes  = "read:user"
)

// OAuthConfig is the oauth2.Config for the GitHub device flow, reused
// across logins rather than constructed per-call.
var OAuthConfig = oauth2.Config{
	ClientID: githubClientID,
	Endpoint: oauth2.Endpoint{
		AuthURL:       githubAuthURL,
		TokenURL:      githubTokenURL,
		DeviceAuthURL: githubDeviceURL,
	},
	Scopes: []string{githubAppScopes},
}

// PromptFunc is invoked once the device code is obtained, so the caller
// (an external collaborator: a CLI or web UI) can show the user the
// verification URL and user code.
type PromptFunc func(da *oauth2.DeviceAuthResponse)

// Login runs the full device flow: obtain a device code, wait for user
// authorization, exchange for a GitHub token, then exchange that for a
// Copilot API token. It returns a ready-to-persist Profile.
func Login(ctx context.Context, httpClient *http.Client, prompt PromptFunc) (profile.Profile, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	da, err := OAuthConfig.DeviceAuth(ctx)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("authflow: device code request failed: %w", err)
	}
	if prompt != nil {
		prompt(da)
	}

	tok, err := OAuthConfig.DeviceAccessToken(ctx, da)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("authflow: device authorization failed: %w", err)
	}

	login, email, err := fetchGitHubUser(ctx, httpClient, tok.AccessToken)
	if err != nil {
		return profile.Profile{}, err
	}

	copilotToken, err := exchangeCopilotToken(ctx, httpClient, tok.AccessToken)
	if err != nil {
		return profile.Profile{}, err
	}

	return profile.Profile{
		ID:           profile.GenerateID("copilot", login),
		Provider:     "copilot",
		PrimaryToken: copilotToken,
		RefreshToken: tok.AccessToken,
		UpdatedAt:    time.Now().UnixMilli(),
		User:         profile.User{Login: login, Email: email},
	}, nil
}

type githubUserResponse struct {
	Login string `json:"login"`
	Email string `json:"email"`
}

func fetchGitHubUser(ctx context.Context, client *http.Client, githubToken string) (login, email string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/user", nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+githubToken)
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("authflow: fetching github user: %w", err)
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("authflow: github user lookup returned %d", resp.StatusCode)
	}
	var out githubUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("authflow: decoding github user: %w", err)
	}
	return out.Login, out.Email, nil
}

// NewRefreshFunc returns a resolver.RefreshFunc that exchanges a stored
// GitHub token for a fresh Copilot API token, reusing the same exchange
// Login performs so a resolver-triggered refresh and a fresh login
// produce tokens the same way.
func NewRefreshFunc(httpClient *http.Client) func(ctx context.Context, refreshToken string) (string, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return func(ctx context.Context, refreshToken string) (string, error) {
		return exchangeCopilotToken(ctx, httpClient, refreshToken)
	}
}

type copilotTokenResponse struct {
	Token string `json:"token"`
}

// exchangeCopilotToken trades a long-lived GitHub token for the
// short-lived Copilot API token used on chat/completions requests.
func exchangeCopilotToken(ctx context.Context, client *http.Client, githubToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, copilotTokenURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+githubToken)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("authflow: copilot token exchange: %w", err)
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("authflow: copilot token exchange returned %d", resp.StatusCode)
	}
	var out copilotTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("authflow: decoding copilot token: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("authflow: copilot token exchange returned empty token")
	}
	return out.Token, nil
}
