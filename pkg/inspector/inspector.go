// Package inspector exposes a debug HTTP endpoint for a running system:
// a JSON status snapshot and the Prometheus metrics.
package inspector

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/shoalio/shoal/pkg/core"
	obs "github.com/shoalio/shoal/pkg/observability/prometheus"
)

// StatusFunc produces the snapshot served at /status.
type StatusFunc func() interface{}

// Inspector serves runtime introspection over fasthttp.
type Inspector struct {
	addr     string
	statusFn StatusFunc
	logger   core.Logger
	server   *fasthttp.Server
	metrics  fasthttp.RequestHandler
}

// New creates an inspector bound to addr.
func New(addr string, statusFn StatusFunc, logger core.Logger) *Inspector {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	i := &Inspector{
		addr:     addr,
		statusFn: statusFn,
		logger:   logger,
		metrics: fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(obs.DefaultRegistry, promhttp.HandlerOpts{}),
		),
	}
	i.server = &fasthttp.Server{
		Name:    "shoal-inspector",
		Handler: i.handle,
	}
	return i
}

// Start begins serving in the background.
func (i *Inspector) Start() {
	go func() {
		if err := i.server.ListenAndServe(i.addr); err != nil {
			i.logger.Errorf("inspector: serve on %s failed: %v", i.addr, err)
		}
	}()
	i.logger.Infof("inspector: listening on %s", i.addr)
}

// Stop shuts the server down gracefully.
func (i *Inspector) Stop() error {
	return i.server.Shutdown()
}

func (i *Inspector) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/status":
		i.handleStatus(ctx)
	case "/metrics":
		i.metrics(ctx)
	default:
		ctx.SetStatusCode(http.StatusNotFound)
	}
}

func (i *Inspector) handleStatus(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	enc := json.NewEncoder(ctx)
	if err := enc.Encode(i.statusFn()); err != nil {
		i.logger.Errorf("inspector: status encode failed: %v", err)
		ctx.SetStatusCode(http.StatusInternalServerError)
	}
}
