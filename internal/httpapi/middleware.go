package httpapi

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"fivesteps.org/internal/audit"
	"fivesteps.org/internal/ids"
	"fivesteps.org/internal/obs"
)

const (
	requestIDHeader  = "X-Request-ID"
	maxRequestIDLen  = 64
	rateLimitClients = 10000
	rateLimitIdle    = 5 * time.Minute
)

// RequestID propagates a caller supplied X-Request-ID or mints a ULID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if rid == "" || len(rid) > maxRequestIDLen || strings.ContainsAny(rid, " \t\r\n") {
			rid = ids.New()
		}
		w.Header().Set(requestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(audit.WithRequestID(r.Context(), rid)))
	})
}

// Logging emits one request_complete line per request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		obs.Logger().Info().
			Str("request_id", audit.RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Float64("duration_ms", float64(time.Since(start).Microseconds())/1000).
			Str("remote_ip", remoteAddr(r)).
			Str("user_agent", r.UserAgent()).
			Msg("request_complete")
	})
}

// Recover turns a handler panic into a logged 500.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			obs.Logger().Error().
				Str("request_id", audit.RequestIDFromContext(r.Context())).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("handler panic")
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies a token bucket per client IP. Idle buckets expire.
// X-Forwarded-For is only read when the peer is one of proxies.
func RateLimit(next http.Handler, burst int, perSecond rate.Limit, proxies ...netip.Prefix) http.Handler {
	buckets := &limiterSet{
		lru:   expirable.NewLRU[string, *rate.Limiter](rateLimitClients, nil, rateLimitIdle),
		rate:  perSecond,
		burst: burst,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !buckets.get(clientIP(r, proxies)).Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(perSecond)))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type limiterSet struct {
	mu    sync.Mutex
	lru   *expirable.LRU[string, *rate.Limiter]
	rate  rate.Limit
	burst int
}

// get returns the bucket for key, creating it on first use.
func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.lru.Get(key)
	if !ok {
		lim = rate.NewLimiter(s.rate, s.burst)
	}
	// Re-add so active clients keep their bucket.
	s.lru.Add(key, lim)
	return lim
}

func retryAfterSeconds(perSecond rate.Limit) int {
	if perSecond <= 0 {
		return 60
	}
	return int(math.Max(1, math.Ceil(1/float64(perSecond))))
}

// clientIP returns the socket peer, or, when the peer is a trusted proxy,
// the right-most X-Forwarded-For entry that is not itself a trusted proxy.
func clientIP(r *http.Request, proxies []netip.Prefix) string {
	peer := remoteAddr(r)
	if len(proxies) == 0 {
		return peer
	}
	if addr, err := netip.ParseAddr(peer); err != nil || !trusted(addr, proxies) {
		return peer
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !trusted(addr, proxies) {
			return addr.Unmap().String()
		}
	}
	return peer
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}

func trusted(addr netip.Addr, proxies []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
