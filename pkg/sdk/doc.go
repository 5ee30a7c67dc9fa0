// Package sdk embeds the Coral operation tracer into a Go application.
//
// An application marks the start and end of interesting work (an HTTP
// request, a job, a query) as trace events. The outermost event of a
// goroutine's context becomes an operation. Operations that run longer than
// the configured threshold are handed to the configured sinks together with
// their nested events, per-key duration metrics and, for long running ones,
// a call tree built from periodic stack samples. Operations that exceed the
// stuck threshold are reported while still running.
//
// Basic integration:
//
//	import "github.com/coral-mesh/coral-trace/pkg/sdk"
//
//	func main() {
//	    tracer, err := sdk.New(sdk.Config{
//	        ServiceName: "my-service",
//	        ConfigPath:  "/etc/my-service/trace.yaml",
//	        WatchConfig: true,
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer tracer.Close()
//
//	    mux := http.NewServeMux()
//	    // ...
//	    http.ListenAndServe(":8080", tracer.Middleware(probe.MiddlewareOptions{
//	        SkipPaths: []string{"/healthz"},
//	    })(mux))
//	}
//
// Nested events are recorded with probe.Around or directly through the
// agent:
//
//	err := probe.Around(ctx, tracer.Tracer(), probe.Simple{Desc: "load orders", Key: "db"},
//	    func(ctx context.Context) error {
//	        return loadOrders(ctx)
//	    })
//
// When admin.addr is set, an admin server lists in-flight operations and
// serves their live trace, a pprof profile of their call tree, the tracer's
// own Prometheus metrics and a websocket feed of dispatched operations (see
// pkg/sdk/admin).
package sdk
