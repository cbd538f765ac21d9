package transport

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Request is an outbound provider call. Retries are never built in here;
// retry policy belongs to the adapter or executor making the call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// Provider keys the per-provider timeout override; empty falls back
	// to the transport default.
	Provider string
	Timeout  time.Duration // overrides everything when set
}

// Response is the raw provider reply
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Transport abstracts outbound provider HTTP so adapters are testable
// without a network.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Options configures the HTTP transport
type Options struct {
	Timeout             time.Duration
	RequestsPerSecond   float64
	Burst               int
	PerProviderTimeouts map[string]time.Duration
}

// HTTP is the production transport: one shared client with a per-host
// token-bucket limiter and a per-host circuit breaker in front of it.
type HTTP struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTP creates the production transport
func NewHTTP(opts Options) *HTTP {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst == 0 {
		opts.Burst = 10
	}
	// timeouts are applied per request so provider overrides can both
	// shorten and extend the default
	return &HTTP{
		client:   &http.Client{},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Do executes the request under the host's rate limit and circuit breaker
func (t *HTTP) Do(ctx context.Context, req Request) (*Response, error) {
	host := hostOf(req.URL)

	if err := t.limiter(host).Wait(ctx); err != nil {
		return nil, err
	}

	result, err := t.breaker(host).Execute(func() (interface{}, error) {
		return t.doOnce(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

func (t *HTTP) doOnce(ctx context.Context, req Request) (*Response, error) {
	if timeout := t.timeoutFor(req); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = strings.NewReader(string(req.Body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", "RailRun/1.0")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("host", hostOf(req.URL)).Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).Msg("Provider request completed")

	return &Response{StatusCode: resp.StatusCode, Body: payload, Headers: resp.Header}, nil
}

// timeoutFor resolves the effective timeout for one request: an explicit
// request timeout wins, then the provider's configured override, then the
// transport default.
func (t *HTTP) timeoutFor(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if d, ok := t.opts.PerProviderTimeouts[req.Provider]; ok && d > 0 {
		return d
	}
	return t.opts.Timeout
}

func (t *HTTP) limiter(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.opts.RequestsPerSecond), t.opts.Burst)
		t.limiters[host] = l
	}
	return l
}

func (t *HTTP) breaker(host string) *gobreaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.breakers[host]
	if !ok {
		st := gobreaker.Settings{Name: host}
		st.Interval = 60 * time.Second
		st.Timeout = 60 * time.Second
		st.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			total := counts.Requests
			if total < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(total) > 0.05
		}
		b = gobreaker.NewCircuitBreaker(st)
		t.breakers[host] = b
	}
	return b
}

func hostOf(url string) string {
	rest := url
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/?"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
