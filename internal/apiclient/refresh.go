package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// refreshEnvelope is the refresh endpoint's response body.
type refreshEnvelope struct {
	Data struct {
		AccessToken string `json:"accessToken"`
	} `json:"data"`
}

// Refresh returns an access token newer than stale.
//
// All callers holding the same stale token share one network call. If the
// store has already moved past stale, the current token is returned without
// any network call. The shared call runs detached from ctx and is bounded by
// the refresh timeout; ctx only bounds how long this caller waits for it.
func (c *Client) Refresh(ctx context.Context, stale string) (string, error) {
	cur := c.store.Get()
	if !cur.Authenticated() {
		return "", fmt.Errorf("%w: session already ended", ErrRefreshFailed)
	}
	if cur.AccessToken != stale {
		return cur.AccessToken, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan("refresh:"+stale, func() (any, error) {
		return c.runRefresh(flightCtx, stale)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			refreshJoinedTotal.Inc()
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// runRefresh performs the one network refresh for a flight. The store is
// re-read first: a flight keyed on a token that has since rotated resolves to
// the current token without touching the network.
func (c *Client) runRefresh(ctx context.Context, stale string) (string, error) {
	cur := c.store.Get()
	if !cur.Authenticated() {
		return "", fmt.Errorf("%w: session already ended", ErrRefreshFailed)
	}
	if cur.AccessToken != stale {
		return cur.AccessToken, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	tok, err := c.callRefresh(ctx, cur.DeviceID)
	if err != nil {
		refreshTotal.WithLabelValues(resultFailure).Inc()
		c.log.Warn().Err(err).Msg("credential refresh failed")
		c.expire()
		return "", err
	}
	if !c.store.SetIf(cur.Generation, tok) {
		// Cleared or replaced by a new login while the call was in flight.
		refreshTotal.WithLabelValues(resultFailure).Inc()
		c.log.Debug().Msg("session changed during refresh, discarding token")
		return "", &APIError{Sentinel: ErrRefreshFailed, Operation: "POST " + c.paths.Refresh, Err: errors.New("session ended while refreshing")}
	}
	refreshTotal.WithLabelValues(resultSuccess).Inc()
	c.log.Debug().Msg("access token refreshed")
	return tok, nil
}

func (c *Client) callRefresh(ctx context.Context, deviceID string) (string, error) {
	r := &Request{Method: http.MethodPost, Path: c.paths.Refresh}
	op := r.op()
	req, err := c.newHTTPRequest(ctx, r, nil, "", "", uuid.NewString())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if deviceID != "" {
		req.Header.Set(c.deviceHeader, deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &APIError{Sentinel: ErrRefreshFailed, Operation: op, Err: fmt.Errorf("timed out after %s: %w", c.refreshTimeout, err)}
		}
		return "", &APIError{Sentinel: ErrRefreshFailed, Operation: op, Err: err}
	}
	defer resp.Body.Close()

	if cerr := Classify(op, resp); cerr != nil {
		var apiErr *APIError
		errors.As(cerr, &apiErr)
		return "", &APIError{Sentinel: ErrRefreshFailed, Operation: op, Status: apiErr.Status, Body: apiErr.Body}
	}

	var env refreshEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", &APIError{Sentinel: ErrRefreshFailed, Operation: op, Status: resp.StatusCode, Err: err}
	}
	if env.Data.AccessToken == "" {
		return "", &APIError{Sentinel: ErrRefreshFailed, Operation: op, Status: resp.StatusCode, Err: errors.New("response has no data.accessToken")}
	}
	return env.Data.AccessToken, nil
}
