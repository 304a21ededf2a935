// Package handler exposes the access tracker over HTTP for the embedder
// service: admin endpoints for block/whitelist management plus read-only
// views of per-IP statistics and recent events.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/arc-self/packages/sec-core/tracker"
)

// Handler serves the security admin API.
type Handler struct {
	Tracker *tracker.Tracker
}

// RegisterRoutes mounts the admin surface under /v1/security plus a
// health probe at the root.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/v1/security")
	g.GET("/stats/:ip", h.GetStats)
	g.GET("/suspicious", h.GetSuspicious)
	g.GET("/summary", h.GetSummary)
	g.GET("/events", h.GetEvents)
	g.POST("/block/:ip", h.BlockIP)
	g.DELETE("/block/:ip", h.UnblockIP)
	g.POST("/whitelist/:ip", h.WhitelistIP)
	g.DELETE("/whitelist/:ip", h.UnwhitelistIP)
	g.POST("/compact", h.Compact)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetStats(c echo.Context) error {
	stats, ok := h.Tracker.Stats(c.Param("ip"))
	if !ok {
		return c.JSON(http.StatusNotFound, errResp("no stats for ip"))
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetSuspicious(c echo.Context) error {
	threshold := tracker.DefaultSuspiciousThreshold
	if raw := c.QueryParam("threshold"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v > 100 {
			return c.JSON(http.StatusBadRequest, errResp("threshold must be an integer in [0,100]"))
		}
		threshold = v
	}
	return c.JSON(http.StatusOK, h.Tracker.Suspicious(threshold))
}

func (h *Handler) GetSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Tracker.Summary())
}

// GetEvents returns recent events, optionally filtered by ?ip= or ?user=
// (mutually exclusive; ip wins), newest first, capped by ?limit=.
func (h *Handler) GetEvents(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return c.JSON(http.StatusBadRequest, errResp("limit must be a positive integer"))
		}
		limit = v
	}

	var events []tracker.AccessEvent
	switch {
	case c.QueryParam("ip") != "":
		events = h.Tracker.EventsByIP(c.QueryParam("ip"), limit)
	case c.QueryParam("user") != "":
		events = h.Tracker.EventsByUser(c.QueryParam("user"), limit)
	default:
		events = h.Tracker.RecentEvents(limit)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (h *Handler) BlockIP(c echo.Context) error {
	reason := c.QueryParam("reason")
	if reason == "" {
		reason = "manual block"
	}
	if err := h.Tracker.Block(c.Param("ip"), reason); err != nil {
		return ipError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "blocked", "ip": c.Param("ip")})
}

func (h *Handler) UnblockIP(c echo.Context) error {
	if err := h.Tracker.Unblock(c.Param("ip")); err != nil {
		return ipError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "unblocked", "ip": c.Param("ip")})
}

func (h *Handler) WhitelistIP(c echo.Context) error {
	if err := h.Tracker.Whitelist(c.Param("ip")); err != nil {
		return ipError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "whitelisted", "ip": c.Param("ip")})
}

func (h *Handler) UnwhitelistIP(c echo.Context) error {
	if err := h.Tracker.Unwhitelist(c.Param("ip")); err != nil {
		return ipError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "unwhitelisted", "ip": c.Param("ip")})
}

// Compact forces an immediate maintenance pass, independent of the
// background loop. Useful before taking a snapshot.
func (h *Handler) Compact(c echo.Context) error {
	h.Tracker.Compact(time.Now())
	return c.JSON(http.StatusOK, map[string]string{"status": "compacted"})
}

func ipError(c echo.Context, err error) error {
	if errors.Is(err, tracker.ErrInvalidInput) {
		return c.JSON(http.StatusBadRequest, errResp("invalid ip address"))
	}
	return c.JSON(http.StatusInternalServerError, errResp(err.Error()))
}

func errResp(msg string) map[string]string {
	return map[string]string{"error": msg}
}
