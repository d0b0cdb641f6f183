package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
)

// Tracing runs each request inside a Sentry transaction on its own hub.
// Incoming sentry-trace headers are continued. A panic is reported and
// raised again for the recoverer above; a 5xx response is reported as a
// message naming the route. Without a Sentry client only the hub is set.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
		}

		tx := startRequestTransaction(r)
		defer tx.Finish()

		ctx := sentry.SetHubOnContext(tx.Context(), hub)
		r = r.WithContext(ctx)
		scopeRequest(hub, tx, r)

		defer func() {
			if v := recover(); v != nil {
				tx.Status = sentry.SpanStatusInternalError
				hub.RecoverWithContext(ctx, v)
				panic(v)
			}
		}()

		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		tx.Status = spanStatus(status)
		tx.SetData("http.response.status_code", status)

		if status >= http.StatusInternalServerError {
			hub.CaptureMessage(fmt.Sprintf("%s %s returned %d", r.Method, r.URL.Path, status))
		}
	})
}

func startRequestTransaction(r *http.Request) *sentry.Span {
	options := []sentry.SpanOption{
		sentry.WithOpName("http.server"),
		sentry.WithTransactionSource(sentry.SourceURL),
	}
	if trace := r.Header.Get(sentry.SentryTraceHeader); trace != "" {
		options = append(options, sentry.ContinueFromHeaders(trace, r.Header.Get(sentry.SentryBaggageHeader)))
	}
	return sentry.StartTransaction(r.Context(), r.Method+" "+r.URL.Path, options...)
}

func scopeRequest(hub *sentry.Hub, tx *sentry.Span, r *http.Request) {
	scope := hub.Scope()
	scope.SetContext("request", map[string]any{
		"method":      r.Method,
		"path":        r.URL.Path,
		"query":       r.URL.RawQuery,
		"remote_addr": clientIP(r),
	})
	if id := GetRequestID(r.Context()); id != "" {
		scope.SetTag("request_id", id)
		tx.SetTag("request_id", id)
	}
	if ua := r.UserAgent(); ua != "" {
		scope.SetTag("user_agent", ua)
	}
}

var spanStatuses = map[int]sentry.SpanStatus{
	http.StatusBadRequest:            sentry.SpanStatusInvalidArgument,
	http.StatusUnauthorized:          sentry.SpanStatusUnauthenticated,
	http.StatusForbidden:             sentry.SpanStatusPermissionDenied,
	http.StatusNotFound:              sentry.SpanStatusNotFound,
	http.StatusConflict:              sentry.SpanStatusAborted,
	http.StatusRequestEntityTooLarge: sentry.SpanStatusResourceExhausted,
	http.StatusTooManyRequests:       sentry.SpanStatusResourceExhausted,
	499:                              sentry.SpanStatusCanceled,
	http.StatusNotImplemented:        sentry.SpanStatusUnimplemented,
	http.StatusServiceUnavailable:    sentry.SpanStatusUnavailable,
	http.StatusGatewayTimeout:        sentry.SpanStatusDeadlineExceeded,
}

// spanStatus maps an HTTP status onto the closest Sentry span status.
func spanStatus(code int) sentry.SpanStatus {
	if status, ok := spanStatuses[code]; ok {
		return status
	}
	switch {
	case code >= 200 && code < 300:
		return sentry.SpanStatusOK
	case code >= 500:
		return sentry.SpanStatusInternalError
	case code >= 400:
		return sentry.SpanStatusInvalidArgument
	default:
		return sentry.SpanStatusUnknown
	}
}
