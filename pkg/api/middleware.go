package api

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"neighbor-assist/pkg/logging"
	"neighbor-assist/pkg/ratelimit"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"
)

// statusResponseWriter captures the status code
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// requestID tags every request with an id, taken from X-Request-ID when
// the client sent one, and stores a logger carrying it in the context.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)

		logger := s.logger.With(zap.String("request_id", id))
		next.ServeHTTP(w, r.WithContext(logging.WithContext(r.Context(), logger)))
	})
}

// accessLog logs one line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(srw, r)

		logging.FromContext(r.Context(), s.logger).Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", srw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// rateLimit gates a request on the IP limiter and, when the request names
// a user, on the user limiter too. Both must allow it; the headers report
// whichever is closer to its limit.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var decisive *ratelimit.Result

		if s.ipLimiter != nil {
			res := s.ipLimiter.CheckAndConsume(s.clientIP(r))
			if !res.Exempt {
				decisive = &res
			}
		}

		if decisive == nil || decisive.Allowed {
			if user := strings.TrimSpace(r.Header.Get(headerUserID)); user != "" && s.userLimiter != nil {
				res := s.userLimiter.CheckAndConsume(user)
				if decisive == nil || !res.Allowed || res.Remaining < decisive.Remaining {
					decisive = &res
				}
			}
		}

		if decisive == nil {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(decisive.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(decisive.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decisive.ResetAt.Unix(), 10))

		if !decisive.Allowed {
			retryAfter := int(math.Ceil(decisive.RetryAfter.Seconds()))
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":      fmt.Sprintf("too many requests, retry in %d seconds", retryAfter),
				"retryAfter": retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the client address without its port.
func (s *Server) clientIP(r *http.Request) string {
	if s.config.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// httpMetrics holds per-route request counters and latencies.
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics() *httpMetrics {
	return &httpMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

func (m *httpMetrics) register(reg prometheus.Registerer) error {
	if err := reg.Register(m.requests); err != nil {
		return err
	}
	return reg.Register(m.duration)
}

// middleware wraps HTTP handlers to collect metrics
func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(srw, r)

		endpoint := routeTemplate(r)
		m.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(srw.statusCode)).Inc()
		m.duration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// routeTemplate returns a normalized endpoint path for metrics
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}

	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return r.URL.Path
	}
	return tmpl
}
