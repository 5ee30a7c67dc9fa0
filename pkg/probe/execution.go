// Package probe defines the data produced by instrumentation hooks and the
// helpers that pair every trace event push with exactly one pop.
package probe

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Execution describes one intercepted call.
type Execution interface {
	// Description is the human readable text shown for the trace event.
	Description() string
	// MetricKey is the summary metric the call's duration is recorded under.
	MetricKey() string
	// ContextMap carries optional nested detail, may be nil.
	ContextMap() ContextMap
}

// Root is an Execution that starts an operation and knows who it runs for.
type Root interface {
	Execution
	Username() string
}

// ContextMap is nested key/value detail attached to an execution. Values are
// scalars, strings or nested ContextMaps.
type ContextMap map[string]any

// String renders the map with sorted keys, e.g. {a=1, b={c=2}}.
func (m ContextMap) String() string {
	if len(m) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(fmt.Sprint(m[k]))
	}
	sb.WriteString("}")
	return sb.String()
}

// Simple is a plain Execution.
type Simple struct {
	Desc    string
	Key     string
	Context ContextMap
}

func (s Simple) Description() string    { return s.Desc }
func (s Simple) MetricKey() string      { return s.Key }
func (s Simple) ContextMap() ContextMap { return s.Context }

// HTTPRequest is the Root execution created for an incoming HTTP request.
type HTTPRequest struct {
	Method string
	Path   string
	Query  string
	User   string
	Header ContextMap
}

// NewHTTPRequest builds an HTTPRequest from r. The username is taken from
// basic auth when present.
func NewHTTPRequest(r *http.Request) HTTPRequest {
	user, _, _ := r.BasicAuth()
	return HTTPRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		User:   user,
	}
}

func (h HTTPRequest) Description() string {
	if h.Query != "" {
		return h.Method + " " + h.Path + "?" + h.Query
	}
	return h.Method + " " + h.Path
}

func (h HTTPRequest) MetricKey() string { return "http request" }

func (h HTTPRequest) ContextMap() ContextMap {
	m := ContextMap{"method": h.Method, "path": h.Path}
	if h.Query != "" {
		m["query"] = h.Query
	}
	if len(h.Header) > 0 {
		m["header"] = h.Header
	}
	return m
}

func (h HTTPRequest) Username() string { return h.User }
