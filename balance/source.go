package balance

import (
	"context"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"github.com/vanylaplus/go-launcher/api"
	"github.com/vanylaplus/go-launcher/resilience"
)

// ErrMalformedBody is returned by HTTPSource when the response is not a JSON
// object.
var ErrMalformedBody = errors.New("balance: malformed response body")

// Source fetches the authoritative balance for a player.
type Source interface {
	FetchBalance(ctx context.Context, key string) (int64, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, key string) (int64, error)

func (f SourceFunc) FetchBalance(ctx context.Context, key string) (int64, error) {
	return f(ctx, key)
}

// HTTPSource reads balances from GET {base}/player/{key}/balance.
type HTTPSource struct {
	client  *api.Client
	breaker *resilience.CircuitBreaker
}

var _ Source = (*HTTPSource)(nil)

// SourceOption configures an HTTPSource.
type SourceOption func(*HTTPSource)

// WithBreaker routes every request through cb.
func WithBreaker(cb *resilience.CircuitBreaker) SourceOption {
	return func(s *HTTPSource) { s.breaker = cb }
}

func NewHTTPSource(client *api.Client, opts ...SourceOption) *HTTPSource {
	s := &HTTPSource{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSource) FetchBalance(ctx context.Context, key string) (int64, error) {
	var body []byte
	get := func(ctx context.Context) error {
		var err error
		body, err = s.client.Get(ctx, "player", key, "balance")
		return err
	}
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, get)
	} else {
		err = get(ctx)
	}
	if err != nil {
		return 0, err
	}
	return ParseBody(body)
}

// ParseBody extracts the balance field from a response body. A body that is
// not a JSON object is an error; a missing or non-numeric field is a balance
// of 0.
func ParseBody(body []byte) (int64, error) {
	if !gjson.ValidBytes(body) {
		return 0, errors.Wrapf(ErrMalformedBody, "%d bytes", len(body))
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return 0, errors.Wrapf(ErrMalformedBody, "top-level %s", doc.Type)
	}
	field := doc.Get("balance")
	switch field.Type {
	case gjson.Number:
		return clamp(field.Num), nil
	case gjson.String:
		return parseLeadingInt(field.Str), nil
	default:
		return 0, nil
	}
}

func clamp(f float64) int64 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(f)
}

// parseLeadingInt reads an optionally signed integer from the start of s,
// ignoring whatever follows it. A 0x prefix selects base 16.
func parseLeadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	negative := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		negative = s[0] == '-'
		s = s[1:]
	}
	base := int64(10)
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		base = 16
		s = s[2:]
	}
	var n int64
	for i := 0; i < len(s); i++ {
		d := digit(s[i])
		if d < 0 || d >= base {
			break
		}
		if n > (math.MaxInt64-d)/base {
			n = math.MaxInt64
			break
		}
		n = n*base + d
	}
	if negative {
		return 0
	}
	return n
}

func digit(c byte) int64 {
	switch {
	case c >= '0' && c <= '9':
		return int64(c - '0')
	case c >= 'a' && c <= 'f':
		return int64(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int64(c-'A') + 10
	}
	return -1
}
