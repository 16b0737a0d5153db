package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// Credentials are the login form values.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

type loginEnvelope struct {
	Data struct {
		AccessToken string `json:"accessToken"`
		DeviceID    string `json:"deviceId"`
	} `json:"data"`
}

type antiForgeryEnvelope struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Login exchanges username and password for an access token and installs a
// new session in the store. The device id is kept across logins when one is
// already known, otherwise a new one is generated.
func (c *Client) Login(ctx context.Context, username, password string) error {
	deviceID := c.store.Get().DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	var env loginEnvelope
	err := c.PostJSON(ctx, c.paths.Login, Credentials{
		Username: username,
		Password: password,
		DeviceID: deviceID,
	}, &env)
	if err != nil {
		return err
	}
	if env.Data.AccessToken == "" {
		return &APIError{Sentinel: ErrBadResponse, Operation: "POST " + c.paths.Login, Err: errors.New("response has no data.accessToken")}
	}
	if env.Data.DeviceID != "" {
		deviceID = env.Data.DeviceID
	}
	c.store.Login(env.Data.AccessToken, deviceID)
	c.log.Info().Str("device_id", deviceID).Msg("logged in")
	return nil
}

// Logout tells the server to end the session and clears the store whatever
// the server answers. It does not raise the session-expired signal.
func (c *Client) Logout(ctx context.Context) error {
	if !c.store.Authenticated() {
		return nil
	}
	resp, err := c.Do(ctx, &Request{Method: http.MethodPost, Path: c.paths.Logout})
	if err == nil {
		err = Classify("POST "+c.paths.Logout, resp)
		drain(resp)
	}
	c.store.Clear()
	c.log.Info().Msg("logged out")
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// AntiForgeryToken returns the cached stream handshake token, fetching it
// through the pipeline on first use. Concurrent callers share one fetch.
func (c *Client) AntiForgeryToken(ctx context.Context) (string, error) {
	cur := c.store.Get()
	if cur.AntiForgeryToken != "" {
		return cur.AntiForgeryToken, nil
	}
	// Keyed on the epoch so a caller arriving after an invalidation never
	// joins a fetch that started before it.
	key := "antiforgery:" + strconv.FormatUint(cur.AntiForgeryEpoch, 10)
	ch := c.flight.DoChan(key, func() (any, error) {
		cur := c.store.Get()
		if cur.AntiForgeryToken != "" {
			return cur.AntiForgeryToken, nil
		}
		var env antiForgeryEnvelope
		if err := c.GetJSON(context.WithoutCancel(ctx), c.paths.AntiForgery, &env); err != nil {
			return "", err
		}
		if env.Data.Token == "" {
			return "", &APIError{Sentinel: ErrBadResponse, Operation: "GET " + c.paths.AntiForgery, Err: errors.New("response has no data.token")}
		}
		if !c.store.SetAntiForgeryIf(cur.AntiForgeryEpoch, env.Data.Token) {
			c.log.Debug().Msg("anti-forgery cache dropped during fetch, not caching token")
		}
		return env.Data.Token, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// InvalidateAntiForgery drops the cached handshake token.
func (c *Client) InvalidateAntiForgery() {
	c.store.ClearAntiForgery()
}
