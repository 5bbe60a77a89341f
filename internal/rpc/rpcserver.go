package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/6529-Collections/royaltynode/internal/royalty"
	"github.com/6529-Collections/royaltynode/internal/rpc/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Services are the views and side channels the API serves.
type Services struct {
	Chain            handlers.HeadReader
	Transactions     handlers.ViewSource[royalty.TransactionRecord]
	Royalties        handlers.ViewSource[royalty.RoyaltyDistributionRecord]
	CreatorRoyalties handlers.ViewSource[royalty.RoyaltyDistributionRecord]
	Signals          handlers.SignalPublisher
}

func NewHandler(s Services) http.Handler {
	mux := http.NewServeMux()

	handlers.SetupHandlers(mux, handlers.MethodHandlers{
		handlers.CreateApiV1Path("status"): {
			handlers.HTTP_GET: func(r *http.Request) (any, error) {
				return handlers.StatusGetHandler(r, s.Chain)
			},
		},
		handlers.CreateApiV1Path("transactions/"): {
			handlers.HTTP_GET: func(r *http.Request) (any, error) {
				return handlers.TransactionsGetHandler(r, s.Transactions)
			},
		},
		handlers.CreateApiV1Path("royalties/"): {
			handlers.HTTP_GET: func(r *http.Request) (any, error) {
				return handlers.RoyaltiesGetHandler(r, s.Royalties, s.CreatorRoyalties)
			},
		},
		handlers.CreateApiV1Path("signals"): {
			handlers.HTTP_POST: func(r *http.Request) (any, error) {
				return handlers.SignalsPostHandler(r, s.Signals)
			},
		},
	})
	mux.Handle("/metrics", promhttp.Handler())

	return loggingMiddleware(mux)
}

func StartRPCServer(port int, ctx context.Context, s Services) func() {
	zap.L().Info("Starting RPC server on port", zap.Int("port", port))

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(s),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil {
			if err == http.ErrServerClosed {
				zap.L().Info("RPC server closed")
			} else {
				zap.L().Fatal("starting RPC server failed", zap.Error(err))
			}
		}
	}()
	closeFunc := func() {
		zap.L().Info("Closing RPC server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("server shutdown failed", zap.Error(err))
		}
	}
	return closeFunc
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{w, http.StatusOK}
		next.ServeHTTP(rw, r)

		zap.L().Info("Request",
			zap.String("ip", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
