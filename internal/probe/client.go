package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/idna"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/metrics"
	"github.com/MrSnakeDoc/directory/internal/version"
)

// DefaultTimeout bounds every probe, body reads included.
const DefaultTimeout = 15 * time.Second

// ConnectionMode selects whether the connection goes back to the shared pool.
type ConnectionMode int

const (
	KeepAlive ConnectionMode = iota
	// Close is for one-shot fetches, nothing else will be asked from that host soon.
	Close
)

// sharedTransport is the process wide connection pool used by every Client
// that does not bring its own RoundTripper.
var sharedTransport = sync.OnceValue(func() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: DefaultTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
})

type Options struct {
	Timeout   time.Duration     // default DefaultTimeout
	UserAgent string            // default version.UserAgent()
	Transport http.RoundTripper // default shared pool
}

// Client issues requests to instances. It never follows redirects, the
// caller decides what a 3xx means.
type Client struct {
	http      *http.Client
	userAgent string
	timeout   time.Duration
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = version.UserAgent()
	}
	var rt http.RoundTripper = opts.Transport
	if rt == nil {
		rt = sharedTransport()
	}
	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: rt,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Don't follow redirects
				return http.ErrUseLastResponse
			},
		},
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
	}
}

// Request sends one request. Failures are *domain.Failure values: an URL
// that cannot be routed is UnsupportedHost, anything that goes wrong on the
// wire is Unresponsive. Non-2xx statuses are not errors here.
func (c *Client) Request(ctx context.Context, method, rawURL string, mode ConnectionMode, body []byte) (*http.Response, error) {
	target, err := routable(rawURL)
	if err != nil {
		return nil, err
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, domain.UnsupportedHost(rawURL)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Close = mode == Close

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ProbeDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProbeRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, c.transportFailure(rawURL, err)
	}
	metrics.ProbeRequestsTotal.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()
	return resp, nil
}

func (c *Client) Get(ctx context.Context, rawURL string, mode ConnectionMode) (*http.Response, error) {
	return c.Request(ctx, http.MethodGet, rawURL, mode, nil)
}

func (c *Client) Head(ctx context.Context, rawURL string) (*http.Response, error) {
	return c.Request(ctx, http.MethodHead, rawURL, KeepAlive, nil)
}

// Post sends an empty body, as expected by scan trigger APIs.
func (c *Client) Post(ctx context.Context, rawURL string) (*http.Response, error) {
	return c.Request(ctx, http.MethodPost, rawURL, KeepAlive, []byte{})
}

// Drain discards what is left of a body so the connection can be reused.
func Drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// routable checks scheme and host, and converts internationalized host
// names to their ASCII form.
func routable(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", domain.UnsupportedHost(rawURL)
	}
	host := u.Hostname()
	if net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil || ascii == "" {
			return "", domain.UnsupportedHost(rawURL)
		}
		if port := u.Port(); port != "" {
			u.Host = net.JoinHostPort(ascii, port)
		} else {
			u.Host = ascii
		}
	}
	return u.String(), nil
}

func (c *Client) transportFailure(rawURL string, err error) *domain.Failure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.Unresponsive(rawURL, "within "+c.timeout.String())
	}
	return domain.Unresponsive(rawURL, "")
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
