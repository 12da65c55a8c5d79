package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// authTimeout bounds credential acquisition so a dead auth endpoint turns
// into a TimeoutError the UI can answer with "try again" instead of hanging.
const authTimeout = 30 * time.Second

// CredentialProvider supplies the bearer credential attached to every
// request. Implementations must be safe for concurrent use.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredential is a fixed, pre-acquired bearer token.
type StaticCredential string

func (s StaticCredential) Token(_ context.Context) (string, error) {
	return string(s), nil
}

// LoginCredential acquires a token from POST /api/auth/login on first use
// and caches it for the lifetime of the session.
type LoginCredential struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

func NewLoginCredential(baseURL, email, password string) *LoginCredential {
	return &LoginCredential{
		baseURL:    baseURL,
		email:      email,
		password:   password,
		httpClient: &http.Client{Timeout: authTimeout},
	}
}

func (l *LoginCredential) Token(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token != "" {
		return l.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"email":    l.email,
		"password": l.password,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode login request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "failed to build login request")
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug().Str("email", l.email).Msg("acquiring access token")
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", decodeRemoteError(resp)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", errors.Wrap(err, "failed to decode login response")
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("login response contained no access token")
	}

	l.token = tokenResp.AccessToken
	return l.token, nil
}

// Invalidate drops the cached token so the next call logs in again.
func (l *LoginCredential) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.token = ""
}

var _ CredentialProvider = StaticCredential("")
var _ CredentialProvider = (*LoginCredential)(nil)
