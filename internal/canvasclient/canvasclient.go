// Package canvasclient talks to the canvas persistence service on behalf of a
// board session.
package canvasclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/manpreetbhatti/waveboard/internal/element"
)

var (
	ErrNotFound  = errors.New("canvas not found")
	ErrForbidden = errors.New("canvas access denied")
	// ErrUnavailable means saves are failing fast after repeated errors.
	ErrUnavailable = errors.New("persistence service unavailable")
)

const (
	defaultMaxFailures uint32 = 5
	defaultOpenTimeout        = 30 * time.Second
	defaultInterval           = 60 * time.Second
)

// Canvas is a stored document as seen by the client.
type Canvas struct {
	ID         string
	OwnerID    string
	Name       string
	Elements   []element.Element
	SharedWith []string
	UpdatedAt  time.Time
}

type wireCanvas struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Name       string          `json:"name"`
	Elements   json.RawMessage `json:"elements"`
	SharedWith []string        `json:"shared_with"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New builds a client for the service at baseURL that authenticates with a
// bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "canvas-save",
		MaxRequests: 1,
		Interval:    defaultInterval,
		Timeout:     defaultOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		// Access errors are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden)
		},
	})
	return c
}

// BreakerState reports the save breaker state for monitoring.
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }

func (c *Client) Create(ctx context.Context, name string) (*Canvas, error) {
	var w wireCanvas
	if err := c.do(ctx, http.MethodPost, "/api/canvas/create", map[string]string{"name": name}, &w); err != nil {
		return nil, err
	}
	return w.canvas()
}

// Load fetches a canvas and decodes its document. A document that fails
// validation is an error; nothing partial is returned.
func (c *Client) Load(ctx context.Context, canvasID string) (*Canvas, error) {
	var w wireCanvas
	if err := c.do(ctx, http.MethodGet, "/api/canvas/"+url.PathEscape(canvasID), nil, &w); err != nil {
		return nil, err
	}
	return w.canvas()
}

// Save replaces the stored document. Repeated failures open the breaker and
// later saves fail fast with ErrUnavailable.
func (c *Client) Save(ctx context.Context, canvasID string, elems []element.Element) error {
	if elems == nil {
		elems = []element.Element{}
	}
	body := struct {
		Elements []element.Element `json:"elements"`
	}{elems}

	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.do(ctx, http.MethodPut, "/api/canvas/"+url.PathEscape(canvasID), body, nil)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (w wireCanvas) canvas() (*Canvas, error) {
	c := &Canvas{
		ID:         w.ID,
		OwnerID:    w.OwnerID,
		Name:       w.Name,
		SharedWith: w.SharedWith,
		UpdatedAt:  w.UpdatedAt,
		Elements:   []element.Element{},
	}
	if len(w.Elements) > 0 && string(w.Elements) != "null" {
		elems, err := element.DecodeSnapshot(w.Elements)
		if err != nil {
			return nil, fmt.Errorf("canvas %s: %w", w.ID, err)
		}
		c.Elements = elems
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode >= 300:
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
