package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peerd/pkg/api"
	"peerd/pkg/bird"
	"peerd/pkg/model"
)

// ErrUnauthorized is returned when the daemon rejects the credentials.
var ErrUnauthorized = errors.New("unauthorized")

// DefaultReconnect is the pause between event stream reconnects.
const DefaultReconnect = 5 * time.Second

// TLSOptions configure HTTPS and mutual TLS towards the daemon.
type TLSOptions struct {
	CAFile   string
	CertFile string
	KeyFile  string
	Insecure bool
}

// Client talks to the peerd management API.
type Client struct {
	Logger    *zap.Logger
	Reconnect time.Duration

	base   *url.URL
	token  string
	http   *http.Client
	dialer *websocket.Dialer
}

// New creates a client for the API at base, e.g. "http://127.0.0.1:7070".
func New(base, token string, opts TLSOptions) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api address %q: scheme must be http or https", base)
	}
	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}
	return &Client{
		Logger:    zap.NewNop(),
		Reconnect: DefaultReconnect,
		base:      u,
		token:     token,
		http: &http.Client{
			Timeout:   60 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		dialer: &websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

func buildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: opts.Insecure} //nolint:gosec
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca file %s: no certificates found", opts.CAFile)
		}
		cfg.RootCAs = pool
	}
	if opts.CertFile != "" && opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// SetToken replaces the credentials, e.g. with a token from Login.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out)
	return out, err
}

func (c *Client) Zones(ctx context.Context) ([]api.ZoneView, error) {
	var out []api.ZoneView
	err := c.do(ctx, http.MethodGet, "/api/v1/zones", nil, &out)
	return out, err
}

// Render fetches a preview of the configuration without writing it.
func (c *Client) Render(ctx context.Context) (api.RenderResponse, error) {
	var out api.RenderResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/render", nil, &out)
	return out, err
}

// Update triggers an update cycle and returns the updater status afterwards.
func (c *Client) Update(ctx context.Context) (bird.Status, error) {
	var out bird.Status
	err := c.do(ctx, http.MethodPost, "/api/v1/update", nil, &out)
	return out, err
}

func (c *Client) Journal(ctx context.Context, limit int) ([]model.CycleEvent, error) {
	var out []model.CycleEvent
	err := c.do(ctx, http.MethodGet, "/api/v1/journal?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

// Login exchanges admin credentials for a JWT. The client keeps using its
// current token until SetToken is called.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s returned %s body=%s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}
