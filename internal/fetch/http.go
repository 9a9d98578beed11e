package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for remote media downloads.
var (
	ErrRemoteUnreachable = errors.New("media host unreachable")
	ErrRemoteStatus      = errors.New("media host returned an error")
	ErrRemoteTimeout     = errors.New("media download timeout")
)

// HTTPConfig holds credentials and limits for http(s):// inputs.
type HTTPConfig struct {
	Username      string
	Password      string
	HeaderTimeout time.Duration
}

// HTTP streams media served over http(s).
type HTTP struct {
	username string
	password string
	client   *http.Client
}

// NewHTTP creates an HTTP source. HeaderTimeout bounds the wait for the
// response headers only, so large bodies are not cut off.
func NewHTTP(cfg HTTPConfig) *HTTP {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.HeaderTimeout
	return &HTTP{
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Transport: transport},
	}
}

// Get returns a reader over the body at rawURL. The caller closes it.
func (h *HTTP) Get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if h == nil || h.client == nil {
		return nil, ErrHTTPNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if h.username != "" && h.password != "" {
		req.SetBasicAuth(h.username, h.password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrRemoteStatus, resp.StatusCode)
	}
	return resp.Body, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrRemoteTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrRemoteTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
}
