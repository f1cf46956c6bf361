package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// Principal is the identity returned by a completed federated sign-in.
type Principal struct {
	Sub   string
	Email string
	Name  string
}

// AuthError is a classified sign-in failure. Code is one of the gate error
// codes; Reason keeps the provider's own error identifier for logging.
type AuthError struct {
	Code   string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Classify maps an error from the redirect-completion path to a gate error
// code. Only domain/redirect authorization failures get the distinct code;
// everything else is the generic failure.
func Classify(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return CodeAuthFailed
}

// GoogleProvider implements the redirect-based federated sign-in against
// Google's OAuth 2.0 endpoints. Endpoint URLs are overridable for tests.
type GoogleProvider struct {
	clientID     string
	clientSecret string
	redirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	httpClient *http.Client
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		AuthURL:      defaultGoogleAuthURL,
		TokenURL:     defaultGoogleTokenURL,
		UserInfoURL:  defaultGoogleUserInfoURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether the deployment provided OAuth credentials.
func (p *GoogleProvider) Configured() bool {
	return p.clientID != "" && p.clientSecret != "" && p.redirectURL != ""
}

// LoginURL builds the URL that starts the redirect-based sign-in.
func (p *GoogleProvider) LoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.clientID},
		"redirect_uri":  {p.redirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
	}
	return p.AuthURL + "?" + params.Encode()
}

// Exchange completes the redirect: it trades the authorization code for an
// access token and fetches the signed-in principal. Failures are
// classified; an unauthorized redirect domain yields CodeAuthDomain.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (Principal, error) {
	token, err := p.exchangeCode(ctx, code)
	if err != nil {
		return Principal{}, err
	}
	return p.fetchPrincipal(ctx, token)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
}

func (p *GoogleProvider) exchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"redirect_uri":  {p.redirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Code: CodeAuthFailed, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{Code: CodeAuthFailed, Reason: "read token response"}
	}

	var token tokenResponse
	_ = json.Unmarshal(body, &token)

	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Code: classifyProviderError(token.Error), Reason: providerReason(token.Error, resp.StatusCode)}
	}
	if token.AccessToken == "" {
		return "", &AuthError{Code: CodeAuthFailed, Reason: "empty access token"}
	}
	return token.AccessToken, nil
}

func (p *GoogleProvider) fetchPrincipal(ctx context.Context, accessToken string) (Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return Principal{}, fmt.Errorf("build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Principal{}, &AuthError{Code: CodeAuthFailed, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Principal{}, &AuthError{Code: CodeAuthFailed, Reason: fmt.Sprintf("user info status %d", resp.StatusCode)}
	}

	var info struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Principal{}, &AuthError{Code: CodeAuthFailed, Reason: "parse user info"}
	}
	if info.Sub == "" {
		return Principal{}, &AuthError{Code: CodeAuthFailed, Reason: "empty principal"}
	}
	return Principal{Sub: info.Sub, Email: info.Email, Name: info.Name}, nil
}

// classifyProviderError separates "this deployment's domain is not
// authorized for the OAuth client" from every other provider failure.
func classifyProviderError(providerError string) string {
	switch providerError {
	case "redirect_uri_mismatch", "unauthorized_client", "invalid_client":
		return CodeAuthDomain
	default:
		return CodeAuthFailed
	}
}

func providerReason(providerError string, status int) string {
	if providerError != "" {
		return providerError
	}
	return fmt.Sprintf("token endpoint status %d", status)
}
