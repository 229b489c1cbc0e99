package febos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// refreshMargin is how long before expiry a token is refreshed proactively,
// so an in-flight request never races the expiry.
const refreshMargin = 60 * time.Second

// Credentials is one Febos login. The password never leaves this package and
// is never logged.
type Credentials struct {
	Username string
	Password string
}

// Validate checks that both fields are present.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

// Session owns the token lifecycle for one account. Febos has no refresh
// token: renewing the session means logging in again with the held
// credentials. All token state is guarded by mu, and holding mu across the
// login call guarantees at most one login in flight per account.
type Session struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	log        *slog.Logger

	mu            sync.Mutex
	token         string
	expiresAt     time.Time
	installations []int
}

func newSession(baseURL string, creds Credentials, httpClient *http.Client, log *slog.Logger) *Session {
	return &Session{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: httpClient,
		log:        log,
	}
}

// EnsureValid returns a usable token, logging in first when the session is
// missing or inside the refresh margin.
func (s *Session) EnsureValid(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expiresAt) > refreshMargin {
		return s.token, nil
	}
	if err := s.loginLocked(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

// Invalidate discards the current token. The next EnsureValid performs a
// full login.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	sessionValid.WithLabelValues(s.creds.Username).Set(0)
}

// Installations returns the installation ids granted to the account,
// logging in first if needed.
func (s *Session) Installations(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" || time.Until(s.expiresAt) <= refreshMargin {
		if err := s.loginLocked(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]int, len(s.installations))
	copy(out, s.installations)
	return out, nil
}

func (s *Session) loginLocked(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"username": s.creds.Username,
		"password": s.creds.Password,
	})
	if err != nil {
		return fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/login", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		loginsTotal.WithLabelValues(s.creds.Username, "network_error").Inc()
		return NetworkError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		loginsTotal.WithLabelValues(s.creds.Username, "rejected").Inc()
		sessionValid.WithLabelValues(s.creds.Username).Set(0)
		return AuthError{Reason: "credentials rejected"}
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		loginsTotal.WithLabelValues(s.creds.Username, "http_error").Inc()
		return HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		loginsTotal.WithLabelValues(s.creds.Username, "decode_error").Inc()
		return fmt.Errorf("decode login response: %w", err)
	}
	if login.ErrCode != 0 {
		loginsTotal.WithLabelValues(s.creds.Username, "rejected").Inc()
		sessionValid.WithLabelValues(s.creds.Username).Set(0)
		return AuthError{Reason: "login refused", Err: APIError{Code: login.ErrCode, Msg: login.Msg}}
	}
	if login.Token == "" {
		return AuthError{Reason: "login response missing token"}
	}

	expiresIn := time.Duration(login.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}

	s.token = login.Token
	s.expiresAt = time.Now().Add(expiresIn)
	s.installations = login.InstallationIDList

	loginsTotal.WithLabelValues(s.creds.Username, "ok").Inc()
	sessionValid.WithLabelValues(s.creds.Username).Set(1)
	s.log.Debug("login successful",
		"username", s.creds.Username,
		"installations", len(s.installations),
		"expires_in", expiresIn)
	return nil
}
