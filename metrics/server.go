package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"evcsms/internal"
	"evcsms/internal/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Listen serves the prometheus registry until the context is done
func Listen(ctx context.Context, conf *config.Config, logger internal.LogHandler) error {
	if !conf.Metrics.Enabled {
		logger.Debug("metrics server is disabled")
		return nil
	}
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", conf.Metrics.BindIP, conf.Metrics.Port),
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", err)
		}
	}()
	logger.Debug(fmt.Sprintf("starting metrics server on %s", server.Addr))
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
