package cache

import (
	"net/http"
	"strings"
)

// Mode describes how a request was issued by the controlled context.
type Mode int

const (
	// ModeNoCORS is an opaque subresource request.
	ModeNoCORS Mode = iota
	// ModeSameOrigin is a subresource request restricted to the origin.
	ModeSameOrigin
	// ModeCORS is a cross-origin subresource request.
	ModeCORS
	// ModeNavigate is a page-load request.
	ModeNavigate
)

// String returns the fetch mode name.
func (m Mode) String() string {
	switch m {
	case ModeSameOrigin:
		return "same-origin"
	case ModeCORS:
		return "cors"
	case ModeNavigate:
		return "navigate"
	default:
		return "no-cors"
	}
}

// ParseMode parses a Sec-Fetch-Mode style value. Unknown values map to ModeNoCORS.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "same-origin":
		return ModeSameOrigin
	case "cors":
		return ModeCORS
	case "navigate":
		return ModeNavigate
	default:
		return ModeNoCORS
	}
}

// Request is a fetch issued by a controlled context.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Mode   Mode
}

// NewRequest returns a GET request for url.
func NewRequest(url string) Request {
	return Request{Method: http.MethodGet, URL: url}
}

// IsNavigation reports whether the request loads a page.
func (r Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// IsGet reports whether the request method is GET. An empty method means GET.
func (r Request) IsGet() bool {
	return r.Method == "" || strings.EqualFold(r.Method, http.MethodGet)
}

// Clone returns a deep copy of the request.
func (r Request) Clone() Request {
	out := r
	if r.Header != nil {
		out.Header = r.Header.Clone()
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// Response is a stored or network response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// URL is the final URL the response was served from, if known.
	URL string
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone returns an independent copy: header and body share no memory with r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		Status: r.Status,
		URL:    r.URL,
	}
	if r.Header != nil {
		out.Header = r.Header.Clone()
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}
