package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// IdempotencyHeader names the client-chosen key for replaying a submission.
const IdempotencyHeader = "Idempotency-Key"

type cachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStore keeps successful submission responses by key.
type IdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*cachedResponse
	ttl     time.Duration
	now     func() time.Time
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		entries: make(map[string]*cachedResponse),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *IdempotencyStore) lookup(key string) (*cachedResponse, bool) {
	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.now().Sub(cached.CachedAt) >= s.ttl {
		return nil, false
	}
	return cached, true
}

func (s *IdempotencyStore) store(key string, status int, headers http.Header, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.entries {
		if now.Sub(v.CachedAt) >= s.ttl {
			delete(s.entries, k)
		}
	}
	s.entries[key] = &cachedResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       bytes.Clone(body),
		CachedAt:   now,
	}
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Idempotent replays the first 2xx response seen for an Idempotency-Key on
// POST requests. Requests without the header pass through.
func Idempotent(s *IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			key = r.URL.Path + "\x00" + key

			if cached, ok := s.lookup(key); ok {
				for k, vals := range cached.Headers {
					w.Header()[k] = append([]string(nil), vals...)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode >= 200 && capture.statusCode < 300 {
				s.store(key, capture.statusCode, w.Header().Clone(), capture.body.Bytes())
			}
		})
	}
}
