package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"github.com/vanylaplus/go-launcher/logger"
	"golang.org/x/net/http2"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// DefaultTimeout bounds a single request when no WithTimeout option is given.
const DefaultTimeout = 5 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

type Client struct {
	baseURL *url.URL
	token   string
	timeout time.Duration
	client  *http.Client
	logger  logger.Logger
}

type Error struct {
	URL      string
	Method   string
	Status   int
	Body     string
	TheError error
	TraceID  string
}

func (e *Error) Error() string {
	if e == nil || e.TheError == nil {
		return ""
	}
	return e.TheError.Error()
}

func (e *Error) Unwrap() error {
	return e.TheError
}

func NewError(url, method string, status int, body string, err error, traceID string) *Error {
	return &Error{
		URL:      url,
		Method:   method,
		Status:   status,
		Body:     body,
		TheError: err,
		TraceID:  traceID,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds every request. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func newTransport() *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 4
	tr.IdleConnTimeout = 90 * time.Second
	// ConfigureTransport only fails when called twice on the same transport.
	_ = http2.ConfigureTransport(tr)
	return tr
}

// New returns a client for baseURL. HTTPS endpoints negotiate HTTP/2.
func New(logger logger.Logger, baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, errors.Wrap(err, "error parsing base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.Newf("base url %q has no host", baseURL)
	}
	c := &Client{
		baseURL: u,
		timeout: DefaultTimeout,
		client:  &http.Client{Transport: newTransport()},
		logger:  logger.WithPrefix("[api]"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured endpoint root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "VanylaLauncher/" + Version + " (" + gitSHA + ")"
}

// safeBodyPreview returns a safe preview of the response body for logging,
// preventing PII exposure by checking content-type and truncating or redacting sensitive data.
func safeBodyPreview(body []byte, contentType string, maxChars int) string {
	if maxChars == 0 {
		maxChars = 200
	}
	lowerContentType := strings.ToLower(contentType)

	binaryTypes := []string{
		"image/", "video/", "audio/", "application/octet-stream",
		"application/pdf", "application/zip", "application/gzip", "font/",
	}
	for _, binaryType := range binaryTypes {
		if strings.Contains(lowerContentType, binaryType) {
			hash := sha256.Sum256(body)
			return fmt.Sprintf("<binary: %d bytes, sha256=%s>", len(body), hex.EncodeToString(hash[:8]))
		}
	}

	safeTextTypes := []string{"text/", "application/json", "application/xml"}
	isSafeText := false
	for _, safeType := range safeTextTypes {
		if strings.Contains(lowerContentType, safeType) {
			isSafeText = true
			break
		}
	}
	if !isSafeText && contentType != "" {
		hash := sha256.Sum256(body)
		return fmt.Sprintf("<unknown type: %d bytes, sha256=%s>", len(body), hex.EncodeToString(hash[:8]))
	}

	if len(body) > maxChars {
		return string(body[:maxChars]) + fmt.Sprintf("[truncated, total: %d chars]", len(body))
	}
	return string(body)
}

// URL joins segments onto the base path, escaping each one.
func (c *Client) URL(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL.JoinPath(escaped...).String()
}

// Get fetches the resource named by segments and returns its body. A non-2xx
// status is returned as *Error with Status set; transport failures carry
// Status 0.
func (c *Client) Get(ctx context.Context, segments ...string) ([]byte, error) {
	const method = http.MethodGet
	target := c.URL(segments...)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, NewError(target, method, 0, "", errors.Wrap(err, "error creating request"), "")
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Trace("sending request: %s %s", method, target)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewError(target, method, 0, "", errors.Wrap(err, "error sending request"), "")
	}
	defer resp.Body.Close()
	c.logger.Debug("response status: %s", resp.Status)

	traceID := resp.Header.Get("traceparent")
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, NewError(target, method, resp.StatusCode, "", errors.Wrap(err, "error reading response body"), traceID)
	}

	contentType := resp.Header.Get("content-type")
	c.logger.Debug("response body: %s, content-type: %s", safeBodyPreview(body, contentType, 200), contentType)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := errors.Newf("request failed with status (%s)", resp.Status)
		if strings.Contains(contentType, "application/json") {
			if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String && msg.Str != "" {
				reason = errors.Newf("%s (%s)", msg.Str, resp.Status)
			}
		}
		return nil, NewError(target, method, resp.StatusCode, string(body), reason, traceID)
	}
	return body, nil
}
