// Package metrics exposes the authentication counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is safe to use as a nil pointer; every method is then a no-op.
type Collector struct {
	authOutcomes *prometheus.CounterVec
	reissues     *prometheus.CounterVec
	logins       *prometheus.CounterVec
	socialLogins *prometheus.CounterVec
	sweptRows    prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "member_auth_requests_total",
			Help: "Requests by authentication outcome.",
		}, []string{"outcome"}),
		reissues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "member_auth_token_reissue_total",
			Help: "Token reissue attempts by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "member_auth_login_total",
			Help: "Password logins by result.",
		}, []string{"result"}),
		socialLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "member_auth_social_login_total",
			Help: "External provider logins by provider and result.",
		}, []string{"provider", "result"}),
		sweptRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "member_auth_sessions_swept_total",
			Help: "Expired refresh sessions removed by the sweeper.",
		}),
	}

	reg.MustRegister(
		c.authOutcomes,
		c.reissues,
		c.logins,
		c.socialLogins,
		c.sweptRows,
	)
	return c
}

func (c *Collector) RecordAuthOutcome(outcome string) {
	if c == nil {
		return
	}
	c.authOutcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordReissue(ok bool) {
	if c == nil {
		return
	}
	c.reissues.WithLabelValues(result(ok)).Inc()
}

func (c *Collector) RecordLogin(ok bool) {
	if c == nil {
		return
	}
	c.logins.WithLabelValues(result(ok)).Inc()
}

func (c *Collector) RecordSocialLogin(provider string, ok bool) {
	if c == nil {
		return
	}
	c.socialLogins.WithLabelValues(provider, result(ok)).Inc()
}

func (c *Collector) RecordSwept(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.sweptRows.Add(float64(n))
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
