package keys

import (
	"net"
	"net/http"
	"strings"
)

// Request is the part of an inbound request the deriver reads.
type Request interface {
	// Header returns the first value of the named header.
	Header(name string) (string, bool)
	// Query returns the first value of the named query parameter.
	Query(name string) (string, bool)
	// Path returns the request path.
	Path() string
	// Host returns the request host without port, or "" when unknown.
	Host() string
}

type httpRequest struct {
	r *http.Request
}

// FromHTTP adapts a net/http request.
func FromHTTP(r *http.Request) Request {
	return httpRequest{r: r}
}

func (h httpRequest) Header(name string) (string, bool) {
	vals := h.r.Header.Values(name)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func (h httpRequest) Query(name string) (string, bool) {
	if h.r.URL == nil {
		return "", false
	}
	q := h.r.URL.Query()
	if !q.Has(name) {
		return "", false
	}
	return q.Get(name), true
}

func (h httpRequest) Path() string {
	if h.r.URL == nil {
		return ""
	}
	return h.r.URL.Path
}

func (h httpRequest) Host() string {
	host := ""
	if h.r.URL != nil {
		host = h.r.URL.Host
	}
	if host == "" {
		host = h.r.Host
	}
	if host == "" {
		return ""
	}
	if name, _, err := net.SplitHostPort(host); err == nil {
		return name
	}
	return strings.Trim(host, "[]")
}

// StaticRequest is a Request built from plain values. Handy for callers
// that are not speaking HTTP and for tests.
type StaticRequest struct {
	Headers  map[string]string
	Params   map[string]string
	URLPath  string
	HostName string
}

func (s StaticRequest) Header(name string) (string, bool) {
	if v, ok := s.Headers[name]; ok {
		return v, true
	}
	canon := http.CanonicalHeaderKey(name)
	for k, v := range s.Headers {
		if http.CanonicalHeaderKey(k) == canon {
			return v, true
		}
	}
	return "", false
}

func (s StaticRequest) Query(name string) (string, bool) {
	v, ok := s.Params[name]
	return v, ok
}

func (s StaticRequest) Path() string { return s.URLPath }

func (s StaticRequest) Host() string { return s.HostName }
