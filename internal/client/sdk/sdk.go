// Package sdk is the typed client for the DriftBox server API: auth, file
// transfer, the change feed and the websocket push channel.
package sdk

import (
	"sync"
	"time"

	"github.com/imroc/req/v3"

	"github.com/driftbox/driftbox/internal/version"
)

// DriftSDK is the main client for the DriftBox server API.
type DriftSDK struct {
	client  *req.Client
	baseURL string

	mu           sync.RWMutex
	refreshToken string

	Auth   *AuthAPI
	Files  *FilesAPI
	Sync   *SyncAPI
	Events *EventsAPI
}

// New creates an SDK client for the given server URL.
func New(baseURL string) (*DriftSDK, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetUserAgent("DriftBox/"+version.Version).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1*time.Second).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	sdk := &DriftSDK{
		client:  client,
		baseURL: baseURL,
	}
	sdk.Auth = newAuthAPI(sdk)
	sdk.Files = newFilesAPI(client)
	sdk.Sync = newSyncAPI(client)
	sdk.Events = newEventsAPI(baseURL)
	return sdk, nil
}

// SetTokens installs the credential pair on the API client and the push
// channel. Login and Refresh call this automatically.
func (s *DriftSDK) SetTokens(accessToken, refreshToken string) {
	s.mu.Lock()
	s.refreshToken = refreshToken
	s.mu.Unlock()

	s.client.SetCommonBearerAuthToken(accessToken)
	s.Events.SetToken(accessToken)
}

// RefreshToken returns the currently held refresh token, if any.
func (s *DriftSDK) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Authenticated reports whether a refresh token is held.
func (s *DriftSDK) Authenticated() bool {
	return s.RefreshToken() != ""
}

func (s *DriftSDK) clearTokens() {
	s.mu.Lock()
	s.refreshToken = ""
	s.mu.Unlock()

	s.client.SetCommonBearerAuthToken("")
	s.Events.SetToken("")
}

// Close terminates the push channel connection if one is open.
func (s *DriftSDK) Close() {
	if s.Events.IsConnected() {
		s.Events.Close()
	}
}
