package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const DefaultPath = "/debug/prometheus"

type PrometheusController struct {
	path string
}

func NewPrometheusController(path string) *PrometheusController {
	if path == "" {
		path = DefaultPath
	}
	return &PrometheusController{path: path}
}

func (c *PrometheusController) Key() string {
	return c.path
}

func (c *PrometheusController) Register(r *mux.Router) {
	r.Handle(c.path, promhttp.Handler()).Methods(http.MethodGet)
}

// Serve exposes the default registry on addr until ctx is cancelled or the
// returned stop function is called.
func Serve(ctx context.Context, addr, path string, log *logrus.Entry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	NewPrometheusController(path).Register(r)
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && log != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	if log != nil {
		log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	}

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop, nil
}
