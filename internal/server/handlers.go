package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	opts    Options
	started time.Time
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.opts.ServiceName,
		"version": h.opts.Version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

func (h *handlers) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessCheckTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]checkResult, len(h.opts.Checks))
	for name, check := range h.opts.Checks {
		start := time.Now()
		res := checkResult{Status: "ok"}
		if err := check(ctx); err != nil {
			res.Status = "failed"
			res.Message = err.Error()
			status = http.StatusServiceUnavailable
		}
		res.Latency = time.Since(start).String()
		results[name] = res
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

type breakerView struct {
	Host            string     `json:"host"`
	State           string     `json:"state"`
	Failures        int        `json:"failures"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
}

func (h *handlers) breakers(c *gin.Context) {
	if h.opts.Breakers == nil {
		c.JSON(http.StatusOK, gin.H{"breakers": []breakerView{}})
		return
	}

	stats := h.opts.Breakers.Snapshot()
	views := make([]breakerView, 0, len(stats))
	for _, s := range stats {
		v := breakerView{Host: s.Name, State: s.State.String(), Failures: s.FailureCount}
		if !s.LastFailureTime.IsZero() {
			t := s.LastFailureTime
			v.LastFailureTime = &t
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"breakers": views})
}

// proxyView omits credentials.
type proxyView struct {
	ID            int64      `json:"id"`
	Endpoint      string     `json:"endpoint"`
	Healthy       bool       `json:"healthy"`
	SuccessRate   float64    `json:"success_rate"`
	TotalRequests int64      `json:"total_requests"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	LastErrorKind string     `json:"last_error_kind,omitempty"`
}

func (h *handlers) proxies(c *gin.Context) {
	if h.opts.Proxies == nil {
		c.JSON(http.StatusOK, gin.H{"proxies": []proxyView{}})
		return
	}

	eps := h.opts.Proxies.Snapshot()
	views := make([]proxyView, 0, len(eps))
	for i := range eps {
		ep := &eps[i]
		views = append(views, proxyView{
			ID:            ep.ID,
			Endpoint:      ep.Key(),
			Healthy:       ep.Healthy,
			SuccessRate:   ep.SuccessRate(),
			TotalRequests: ep.TotalRequests,
			LastUsedAt:    ep.LastUsedAt,
			LastErrorKind: ep.LastErrorKind,
		})
	}
	c.JSON(http.StatusOK, gin.H{"proxies": views})
}
