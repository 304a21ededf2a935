package handler

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/arc-self/packages/sec-core/logging"
	"github.com/arc-self/packages/sec-core/tracectx"
	"github.com/arc-self/packages/sec-core/tracker"
)

// RequestContextMiddleware binds a trace-context carrier for every request,
// minting a request id when the client did not send X-Request-ID, and
// echoes the id back on the response.
func RequestContextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			md := tracectx.Metadata{}
			if id := c.Request().Header.Get("X-Request-ID"); id != "" {
				md[tracectx.KeyRequestID] = id
			}
			if user := c.Request().Header.Get("X-Internal-User-Id"); user != "" {
				md[tracectx.KeyUserID] = user
			}
			ctx = tracectx.With(ctx, md)
			ctx, reqID := tracectx.EnsureRequestID(ctx)
			c.Response().Header().Set("X-Request-ID", reqID)

			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// AccessTrackingMiddleware feeds every request into the tracker, rejects
// blocked IPs up front, and emits an http-level response record. Alerts
// returned by Track are handed to onAlert (typically a NATS publish);
// onAlert may be nil.
func AccessTrackingMiddleware(tr *tracker.Tracker, lg *logging.Logger, onAlert func(echo.Context, tracker.Alert)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := clientIP(c)
			ctx := c.Request().Context()

			if tr.IsBlocked(ip) && !tr.IsWhitelisted(ip) {
				// still record the attempt so the stats reflect it
				alerts := tr.Track(tracker.AccessEvent{
					IP:         ip,
					Timestamp:  time.Now(),
					Endpoint:   c.Path(),
					Method:     c.Request().Method,
					StatusCode: http.StatusForbidden,
					UserID:     tracectx.UserID(ctx),
					UserAgent:  c.Request().UserAgent(),
					Success:    false,
					Reason:     "blocked",
				})
				for _, a := range alerts {
					if onAlert != nil {
						onAlert(c, a)
					}
				}
				return c.JSON(http.StatusForbidden, errResp("access denied"))
			}

			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			alerts := tr.Track(tracker.AccessEvent{
				IP:         ip,
				Timestamp:  start,
				Endpoint:   c.Path(),
				Method:     c.Request().Method,
				StatusCode: status,
				UserID:     tracectx.UserID(ctx),
				UserAgent:  c.Request().UserAgent(),
				Success:    status < http.StatusBadRequest,
			})
			for _, a := range alerts {
				if onAlert != nil {
					onAlert(c, a)
				}
			}

			_ = lg.HTTPResponse(ctx, c.Request().Method, c.Path(), status, time.Since(start), nil)
			return err
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// transport peer.
func clientIP(c echo.Context) string {
	if fwd := c.Request().Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}
