package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes requested for Earth Engine access
var Scopes = []string{
	"https://www.googleapis.com/auth/earthengine",
	"https://www.googleapis.com/auth/cloud-platform",
}

// DefaultBaseURL is the public Earth Engine REST endpoint
const DefaultBaseURL = "https://earthengine.googleapis.com"

// ErrSessionClosed is returned for operations on a closed session
var ErrSessionClosed = errors.New("provider session is closed")

// SessionConfig holds what is needed to authenticate against Earth Engine
type SessionConfig struct {
	// Project is the Cloud project billed for requests. Empty falls back to
	// the project of the credentials.
	Project string
	BaseURL string
	// CredentialsFile is a service account key. Empty uses Application
	// Default Credentials.
	CredentialsFile string
	Timeout         time.Duration
}

// Session is an authenticated connection to the provider. It must be opened
// before any request and closed when the run ends.
type Session struct {
	mu      sync.RWMutex
	project string
	baseURL string
	client  *http.Client
	closed  bool
}

// OpenSession authenticates and returns a ready session
func OpenSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	creds, err := findCredentials(ctx, cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	project := cfg.Project
	if project == "" {
		project = creds.ProjectID
	}
	if project == "" {
		return nil, fmt.Errorf("no cloud project configured and none found in credentials")
	}

	client := oauth2.NewClient(ctx, creds.TokenSource)
	client.Timeout = cfg.Timeout

	return NewSession(project, cfg.BaseURL, client), nil
}

func findCredentials(ctx context.Context, path string) (*google.Credentials, error) {
	if path == "" {
		creds, err := google.FindDefaultCredentials(ctx, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
		return creds, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	return creds, nil
}

// NewSession wraps an already authenticated HTTP client
func NewSession(project, baseURL string, client *http.Client) *Session {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Session{
		project: project,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Project returns the project requests are billed to
func (s *Session) Project() string {
	return s.project
}

// BaseURL returns the endpoint root without a trailing slash
func (s *Session) BaseURL() string {
	return s.baseURL
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close ends the session. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}

func (s *Session) httpClient() (*http.Client, error) {
	if s == nil {
		return nil, ErrSessionClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.client, nil
}
