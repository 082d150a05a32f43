package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader carries the request ID on requests and responses
const requestIDHeader = "X-Request-ID"

// RequestID assigns each request an ID, honoring one supplied by the client,
// and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(requestIDHeader, requestID)
		ctx := WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
