package probe

import (
	"context"
	"net/http"
	"strings"
)

// Span is the handle of one pushed trace event. End must be called exactly
// once on every exit path.
type Span interface {
	End()
}

// Tracer records trace events. The context returned by StartSpan carries the
// current operation and must be passed to nested calls.
type Tracer interface {
	StartSpan(ctx context.Context, exec Execution) (context.Context, Span)
}

// Around runs fn inside a trace event for exec. The event is popped when fn
// returns or panics.
func Around(ctx context.Context, tracer Tracer, exec Execution, fn func(context.Context) error) error {
	ctx, span := tracer.StartSpan(ctx, exec)
	defer endSpan(span)
	return fn(ctx)
}

func endSpan(span Span) {
	if span != nil {
		span.End()
	}
}

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	// SkipPaths are request paths (exact, or prefix when ending in "/")
	// that are not traced.
	SkipPaths []string
	// Headers are request headers copied into the root event's context.
	Headers []string
}

// Middleware starts an operation for each request handled by next.
func Middleware(tracer Tracer, opts MiddlewareOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped(r.URL.Path, opts.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			exec := NewHTTPRequest(r)
			for _, name := range opts.Headers {
				if v := r.Header.Get(name); v != "" {
					if exec.Header == nil {
						exec.Header = ContextMap{}
					}
					exec.Header[strings.ToLower(name)] = v
				}
			}

			ctx, span := tracer.StartSpan(r.Context(), exec)
			defer endSpan(span)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func skipped(path string, skip []string) bool {
	for _, p := range skip {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}
