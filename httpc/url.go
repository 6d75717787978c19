package httpc

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const defaultPort = 80

// URL is the subset of URLs the client understands: http://host[:port]/path.
type URL struct {
	Host string
	Port int
	Path string
}

// ParseURL parses raw into a URL. Only plain http is supported; the path is
// sent verbatim so callers must escape it beforehand.
func ParseURL(raw string) (*URL, error) {
	rest, ok := strings.CutPrefix(raw, "http://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}

	u := &URL{Port: defaultPort}
	i := strings.IndexAny(rest, ":/")
	if i < 0 {
		u.Host, rest = rest, ""
	} else {
		u.Host, rest = rest[:i], rest[i:]
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: empty host in %q", ErrUnsupportedURL, raw)
	}

	if strings.HasPrefix(rest, ":") {
		ps := rest[1:]
		if j := strings.IndexByte(ps, '/'); j >= 0 {
			ps, rest = ps[:j], ps[j:]
		} else {
			rest = ""
		}
		p, err := strconv.Atoi(ps)
		if err != nil || p < 1 || p > 65535 {
			return nil, fmt.Errorf("%w: invalid port in %q", ErrUnsupportedURL, raw)
		}
		u.Port = p
	}

	u.Path = rest
	if u.Path == "" {
		u.Path = "/"
	}

	if !httpguts.ValidHostHeader(u.HostPort()) {
		return nil, fmt.Errorf("%w: invalid host in %q", ErrUnsupportedURL, raw)
	}
	if strings.ContainsAny(u.Path, " \t\r\n") {
		return nil, fmt.Errorf("%w: unescaped path in %q", ErrUnsupportedURL, raw)
	}

	return u, nil
}

func (u *URL) HostPort() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

func (u *URL) String() string {
	return "http://" + u.HostPort() + u.Path
}

// URLEncode escapes s the way encodeURIComponent does, with lowercase hex.
func URLEncode(s string) string {
	const hex = "0123456789abcdef"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case '0' <= c && c <= '9', 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z':
			b.WriteByte(c)
		case strings.IndexByte("-_.!~*'()", c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xf])
		}
	}
	return b.String()
}

// BuildGetURL appends params to base as an encoded query string, keys sorted.
func BuildGetURL(base string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(base)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(URLEncode(k))
		b.WriteByte('=')
		b.WriteString(URLEncode(params[k]))
	}
	return b.String()
}
