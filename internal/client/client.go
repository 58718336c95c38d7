// Package client talks to the dispatch API from the console side. Responses
// are decoded tolerantly so the console also works against older producers
// that use different field names.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/dispatch-engine/internal/assign"
	"github.com/example/dispatch-engine/internal/fare"
	"github.com/example/dispatch-engine/internal/ingest"
	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
)

// RemoteError is a non-2xx answer or an {ok:false} body. Message is the
// server's text, unchanged.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("remote returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error { return models.ErrRequestFailed }

type Client struct {
	base   *url.URL
	http   *http.Client
	logger zerolog.Logger
	// Zone and Status narrow FetchTrips.
	Zone   string
	Status string
	// Flow is sent with every status change.
	Flow lifecycle.Flow
}

func New(baseURL string, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &Client{base: u, http: &http.Client{Timeout: 10 * time.Second}, logger: logger}, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// FetchTrips implements coordinator.Source.
func (c *Client) FetchTrips(ctx context.Context) ([]models.Trip, error) {
	q := url.Values{}
	if c.Zone != "" {
		q.Set("zone", c.Zone)
	}
	if c.Status != "" {
		q.Set("status", c.Status)
	}
	body, err := c.do(ctx, http.MethodGet, c.endpoint("/api/v1/trips", q), nil)
	if err != nil {
		return nil, err
	}
	trips, skipped, err := ingest.DecodeTrips(body)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		c.logger.Warn().Int("skipped", skipped).Msg("trip rows without id dropped")
	}
	return trips, nil
}

func (c *Client) FetchDrivers(ctx context.Context, zone string) ([]models.Driver, error) {
	q := url.Values{}
	if zone != "" {
		q.Set("zone", zone)
	}
	body, err := c.do(ctx, http.MethodGet, c.endpoint("/api/v1/drivers", q), nil)
	if err != nil {
		return nil, err
	}
	drivers, _, err := ingest.DecodeDrivers(body)
	return drivers, err
}

func (c *Client) FetchZones(ctx context.Context) ([]models.Zone, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint("/api/v1/zones", nil), nil)
	if err != nil {
		return nil, err
	}
	zones, _, err := ingest.DecodeZones(body)
	return zones, err
}

// ChangeStatus implements coordinator.Remote.
func (c *Client) ChangeStatus(ctx context.Context, ref, status string, force bool) (models.Status, error) {
	body, err := c.do(ctx, http.MethodPost, c.endpoint("/api/v1/trips/"+url.PathEscape(ref)+"/status", nil),
		map[string]any{"status": status, "force": force, "flow": c.Flow.String()})
	if err != nil {
		return models.StatusUnknown, err
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return models.StatusUnknown, fmt.Errorf("%w: decode status response: %v", models.ErrRequestFailed, err)
	}
	if strings.TrimSpace(out.Status) == "" {
		return models.StatusUnknown, nil
	}
	return lifecycle.Normalize(out.Status), nil
}

// AssignDriver implements coordinator.Remote.
func (c *Client) AssignDriver(ctx context.Context, ref, driverID, note string) error {
	_, err := c.do(ctx, http.MethodPost, c.endpoint("/api/v1/trips/"+url.PathEscape(ref)+"/assign", nil),
		map[string]any{"driver_id": driverID, "note": note})
	return err
}

func (c *Client) Suggestions(ctx context.Context, ref string, force bool) (assign.Result, error) {
	q := url.Values{}
	if force {
		q.Set("force", "true")
	}
	body, err := c.do(ctx, http.MethodGet, c.endpoint("/api/v1/trips/"+url.PathEscape(ref)+"/suggestions", q), nil)
	if err != nil {
		return assign.Result{}, err
	}
	var res assign.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return assign.Result{}, fmt.Errorf("%w: decode suggestions: %v", models.ErrRequestFailed, err)
	}
	return res, nil
}

func (c *Client) PickupQuote(ctx context.Context, ref, driverID string) (fare.Quote, error) {
	q := url.Values{}
	if driverID != "" {
		q.Set("driver_id", driverID)
	}
	body, err := c.do(ctx, http.MethodGet, c.endpoint("/api/v1/trips/"+url.PathEscape(ref)+"/pickup-fee", q), nil)
	if err != nil {
		return fare.Quote{}, err
	}
	var out struct {
		Quote fare.Quote `json:"quote"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fare.Quote{}, fmt.Errorf("%w: decode quote: %v", models.ErrRequestFailed, err)
	}
	return out.Quote, nil
}

func (c *Client) PickupFee(ctx context.Context, km float64) (int64, error) {
	q := url.Values{"km": []string{strconv.FormatFloat(km, 'f', -1, 64)}}
	body, err := c.do(ctx, http.MethodGet, c.endpoint("/api/v1/fees/pickup", q), nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Fee int64 `json:"fee"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("%w: decode fee: %v", models.ErrRequestFailed, err)
	}
	return out.Fee, nil
}

type envelope struct {
	OK      *bool  `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, target string, payload any) ([]byte, error) {
	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", models.ErrRequestFailed, err)
	}

	var env envelope
	_ = json.Unmarshal(body, &env)
	if resp.StatusCode >= 300 || (env.OK != nil && !*env.OK) {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		code := env.Code
		if code == "" {
			code = models.CodeRequestFailed
		}
		return nil, &RemoteError{Status: resp.StatusCode, Code: code, Message: msg}
	}
	return body, nil
}

// Subscribe streams trip events from /ws/trips until ctx ends or the
// connection drops. The returned channel is closed on exit.
func (c *Client) Subscribe(ctx context.Context) (<-chan models.TripEvent, error) {
	u := *c.base
	u.Path = c.base.Path + "/ws/trips"
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", models.ErrRequestFailed, err)
	}

	out := make(chan models.TripEvent, 16)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var e models.TripEvent
			if err := conn.ReadJSON(&e); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn().Err(err).Msg("event stream closed")
				}
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
