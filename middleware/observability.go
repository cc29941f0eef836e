package middleware

import (
	"net/http"
	"strconv"
	"time"

	"storefront/logging"
	"storefront/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const RequestIDHeader = "X-Request-ID"

// Observability extracts W3C trace context, assigns a request id, stores a
// request-scoped logger in the request context, and records HTTP metrics
// and an access log line once the handler chain returns.
func Observability(base *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	if base == nil {
		base = zap.NewNop()
	}
	prop := otel.GetTextMapPropagator()

	return func(c *gin.Context) {
		start := time.Now()
		ctx := prop.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(RequestIDHeader, rid)

		fields := []zap.Field{zap.String("request_id", rid)}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
		reqLogger := base.With(fields...)
		c.Request = c.Request.WithContext(logging.ContextWithLogger(ctx, reqLogger))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.ObserveHTTP(c.Request.Method, route, strconv.Itoa(status), elapsed.Seconds())

		logFields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			logFields = append(logFields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			reqLogger.Error("http_request", logFields...)
		case status >= 400:
			reqLogger.Warn("http_request", logFields...)
		default:
			reqLogger.Info("http_request", logFields...)
		}
	}
}

// Recovery turns a handler panic into a 500 and logs it with the request logger.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.FromContext(c.Request.Context()).Error("panic_recovered", zap.Any("panic", recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
	})
}
