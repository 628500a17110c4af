package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
)

// maxErrorBody limits how much of an error response is read for logging.
const maxErrorBody = 512

// HTTP posts envelopes as JSON to the collector endpoint.
type HTTP struct {
	endpoint  string
	apiKey    string
	userAgent string
	gzip      bool
	client    *http.Client
	l         logrus.FieldLogger
}

// NewHTTP creates an HTTP transport. The open timeout bounds connection
// setup and the read timeout bounds waiting for the response.
func NewHTTP(c config.Config, l logrus.FieldLogger) *HTTP {
	openTimeout := c.Delivery.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = config.DefaultTimeout
	}
	readTimeout := c.Delivery.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = config.DefaultTimeout
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = config.DefaultEndpoint
	}
	version := c.Version
	if version == "" {
		version = "dev"
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: openTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   openTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConns:          c.Delivery.MaxConcurrency,
		IdleConnTimeout:       90 * time.Second,
	}
	return &HTTP{
		endpoint:  endpoint,
		apiKey:    c.APIKey,
		userAgent: "perfagent/" + version,
		gzip:      c.Delivery.Gzip,
		client: &http.Client{
			Transport: tr,
			Timeout:   openTimeout + readTimeout,
		},
		l: logger.OrNull(l).WithField("component", "transport"),
	}
}

// Send implements Interface
func (h *HTTP) Send(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	if h.gzip {
		body, err = compress(body)
		if err != nil {
			return errors.Wrap(err, "gzip envelope")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.Header.Set("User-Agent", h.userAgent)
	if h.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post envelope")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		h.l.WithField("status", resp.StatusCode).
			WithField("response", string(msg)).
			Debug("Collector rejected envelope")
		return errors.Wrapf(ErrStatus, "status %d", resp.StatusCode)
	}
	// Drain for connection reuse
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func init() {
	Register("http", func(c config.Config, l logrus.FieldLogger) (Interface, error) {
		return NewHTTP(c, l), nil
	})
}
