// Package httpc is a minimal blocking HTTP/1.1 GET client. It speaks just
// enough of the protocol to revalidate cached assets against plain http
// mirrors: Content-Length and chunked bodies, If-None-Match, no redirects.
package httpc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpguts"
	"golang.org/x/time/rate"
)

const (
	defaultReadyAttempts = 5
	defaultReadyWait     = 500 * time.Millisecond
	defaultDialTimeout   = 10 * time.Second
	defaultReadTimeout   = 60 * time.Second

	readChunk = 32 * 1024

	// DefaultMaxBodySize caps bodies when no WithMaxBodySize is given.
	DefaultMaxBodySize = 64 << 20
)

// Response is a fully read HTTP response.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     textproto.MIMEHeader
	Body       []byte
}

// ETag returns the raw validator, quotes included.
func (r *Response) ETag() string {
	return r.Header.Get("Etag")
}

func (r *Response) LastModified() string {
	return r.Header.Get("Last-Modified")
}

func (r *Response) CacheControl() string {
	return r.Header.Get("Cache-Control")
}

type Client struct {
	dialer        net.Dialer
	readyAttempts int
	readyWait     time.Duration
	readTimeout   time.Duration
	limiter       *rate.Limiter
	maxBody       int64

	log zerolog.Logger
}

func NewClient(options ...Option) *Client {
	c := &Client{
		dialer:        net.Dialer{Timeout: defaultDialTimeout},
		readyAttempts: defaultReadyAttempts,
		readyWait:     defaultReadyWait,
		readTimeout:   defaultReadTimeout,
		limiter:       rate.NewLimiter(rate.Inf, 0),
		maxBody:       DefaultMaxBodySize,
		log:           log.Logger.With().Str("component", "http-client").Logger(),
	}

	for _, option := range options {
		//nolint:forcetypeassert
		switch option.Ident() {
		case identDialTimeout{}:
			c.dialer.Timeout = option.Value().(time.Duration)
		case identReadyAttempts{}:
			if v := option.Value().(int); v > 0 {
				c.readyAttempts = v
			}
		case identReadyWait{}:
			if v := option.Value().(time.Duration); v > 0 {
				c.readyWait = v
			}
		case identReadTimeout{}:
			c.readTimeout = option.Value().(time.Duration)
		case identRateLimit{}:
			if v := option.Value().(int); v > 0 {
				c.limiter = rate.NewLimiter(rate.Limit(v), readChunk)
			}
		case identMaxBodySize{}:
			c.maxBody = option.Value().(int64)
		}
	}

	return c
}

// Fetch issues a GET for rawURL, revalidating against etag when it is set.
// The etag is sent quoted unless it already carries quotes.
func (c *Client) Fetch(ctx context.Context, rawURL, etag string) (*Response, error) {
	var h map[string]string
	if etag != "" {
		h = map[string]string{"If-None-Match": quoteETag(etag)}
	}
	return c.Get(ctx, rawURL, h)
}

// Get issues a GET request for rawURL with the given extra headers and reads
// the whole response. 404 and 304 answers are returned as *StatusError
// wrapping ErrNotFound and ErrNotModified; so is any other non-2xx status.
func (c *Client) Get(ctx context.Context, rawURL string, header map[string]string) (*Response, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := buildRequest(u, header)
	if err != nil {
		return nil, err
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", u.HostPort())
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", u.HostPort(), err)
	}
	defer conn.Close()

	// unblock pending reads when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	c.log.Debug().Str("url", rawURL).Int("bytes", len(req)).Msg("sending http request")
	if _, err := io.WriteString(conn, req); err != nil {
		return nil, fmt.Errorf("error sending request to %s: %w", u.HostPort(), err)
	}

	br := bufio.NewReader(conn)
	if err := c.waitReadable(ctx, conn, br); err != nil {
		c.log.Debug().Str("url", rawURL).Err(err).Msg("socket read timed out")
		return nil, err
	}

	var deadline time.Time
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	tp := textproto.NewReader(br)
	resp, err := readHead(tp)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Debug().Str("url", rawURL).Int("status", resp.StatusCode).Msg("no content in response")
		return nil, statusError(rawURL, resp.StatusCode, resp.Reason)
	}

	resp.Body, err = c.readBody(ctx, tp, resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("error reading body from %s: %w", rawURL, err)
	}

	c.log.Debug().Str("url", rawURL).Int("status", resp.StatusCode).Int("bytes", len(resp.Body)).Msg("response read")
	return resp, nil
}

func buildRequest(u *URL, header map[string]string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", u.Path)
	fmt.Fprintf(&b, "Host: %s\r\n", u.HostPort())
	for k, v := range header {
		if !httpguts.ValidHeaderFieldName(k) || !httpguts.ValidHeaderFieldValue(v) {
			return "", fmt.Errorf("invalid request header %q", k)
		}
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("Connection: close\r\n\r\n")
	return b.String(), nil
}

func (c *Client) waitReadable(ctx context.Context, conn net.Conn, br *bufio.Reader) error {
	for i := 0; i < c.readyAttempts; i++ {
		if err := conn.SetReadDeadline(time.Now().Add(c.readyWait)); err != nil {
			return err
		}
		_, err := br.Peek(1)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			continue
		}
		return err
	}

	return ErrTimeout
}

func readHead(tp *textproto.Reader) (*Response, error) {
	line, err := tp.ReadLine()
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformed, line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformed, parts[1])
	}

	resp := &Response{Proto: parts[0], StatusCode: code}
	if len(parts) == 3 {
		resp.Reason = parts[2]
	}

	h, err := tp.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	resp.Header = h

	return resp, nil
}

func (c *Client) readBody(ctx context.Context, tp *textproto.Reader, resp *Response) ([]byte, error) {
	r := &limitedReader{ctx: ctx, r: tp.R, lim: c.limiter}

	if strings.Contains(strings.ToLower(resp.Header.Get("Transfer-Encoding")), "chunked") {
		return c.readChunked(tp, r)
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: content length %q", ErrMalformed, cl)
		}
		if c.maxBody > 0 && n > c.maxBody {
			return nil, ErrBodyTooLarge
		}
		var buf bytes.Buffer
		if err := readN(&buf, r, n); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	if resp.StatusCode == 204 {
		return nil, nil
	}

	// no framing: the server closes the connection after the body
	var src io.Reader = r
	if c.maxBody > 0 {
		src = io.LimitReader(r, c.maxBody+1)
	}
	body, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if c.maxBody > 0 && int64(len(body)) > c.maxBody {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

func (c *Client) readChunked(tp *textproto.Reader, r io.Reader) ([]byte, error) {
	var body bytes.Buffer
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return nil, err
		}
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("%w: chunk size %q", ErrMalformed, line)
		}

		if size == 0 {
			// trailers end with an empty line
			for {
				l, err := tp.ReadLine()
				if err != nil || l == "" {
					return body.Bytes(), nil
				}
			}
		}

		if c.maxBody > 0 && size > c.maxBody-int64(body.Len()) {
			return nil, ErrBodyTooLarge
		}
		if err := readN(&body, r, size); err != nil {
			return nil, err
		}

		if crlf, err := tp.ReadLine(); err != nil || crlf != "" {
			return nil, fmt.Errorf("%w: missing chunk terminator", ErrMalformed)
		}
	}
}

// readN appends exactly n bytes from r to buf. The buffer grows with the data
// actually received, never with the advertised length.
func readN(buf *bytes.Buffer, r io.Reader, n int64) error {
	if n <= readChunk {
		buf.Grow(int(n))
	}
	got, err := io.Copy(buf, io.LimitReader(r, n))
	if err != nil {
		return err
	}
	if got < n {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return `"` + etag + `"`
}

type limitedReader struct {
	ctx context.Context
	r   io.Reader
	lim *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.lim.Limit() != rate.Inf && len(p) > l.lim.Burst() {
		p = p[:l.lim.Burst()]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.lim.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
