package sdk

import (
	"context"
	"time"

	"github.com/imroc/req/v3"
)

const (
	syncChanges   = "/sync/changes"
	syncHeartbeat = "/sync/heartbeat"
)

// SyncAPI covers the polling change feed, the fallback for clients whose
// push channel is down.
type SyncAPI struct {
	client *req.Client
}

func newSyncAPI(client *req.Client) *SyncAPI {
	return &SyncAPI{client: client}
}

// Changes returns events recorded strictly after since, oldest first. A
// non-empty clientID excludes the caller's own events. Persist the returned
// ServerTime as the cursor for the next poll.
func (s *SyncAPI) Changes(ctx context.Context, since time.Time, clientID string) (*ChangesResponse, error) {
	var result *ChangesResponse

	r := s.client.R().
		SetContext(ctx).
		SetSuccessResult(&result)
	if !since.IsZero() {
		r.SetQueryParam("since", since.UTC().Format(time.RFC3339Nano))
	}
	if clientID != "" {
		r.SetQueryParam("clientId", clientID)
	}

	resp, err := r.Get(syncChanges)
	if err := handleAPIError(resp, err, "sync changes"); err != nil {
		return nil, err
	}

	return result, nil
}

// Heartbeat tells the server this client is alive and returns server time.
func (s *SyncAPI) Heartbeat(ctx context.Context) (*HeartbeatResponse, error) {
	var result *HeartbeatResponse

	resp, err := s.client.R().
		SetContext(ctx).
		SetSuccessResult(&result).
		Post(syncHeartbeat)

	if err := handleAPIError(resp, err, "sync heartbeat"); err != nil {
		return nil, err
	}

	return result, nil
}
