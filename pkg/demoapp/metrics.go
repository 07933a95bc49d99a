package demoapp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login outcomes.
const (
	loginSuccess  = "success"
	loginInvalid  = "invalid"
	loginRejected = "rejected"
)

// Signup outcomes.
const (
	signupCreated  = "created"
	signupRejected = "rejected"
)

type metrics struct {
	registry      *prometheus.Registry
	loginAttempts *prometheus.CounterVec
	signups       *prometheus.CounterVec
	users         prometheus.GaugeFunc
}

// newMetrics registers the app metrics on a private registry so several
// servers can live in one process.
func newMetrics(store *Store) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "demoapp_login_attempts_total",
			Help: "Login form submissions by outcome.",
		}, []string{"outcome"}),
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "demoapp_signups_total",
			Help: "Signup form submissions by outcome.",
		}, []string{"outcome"}),
		users: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "demoapp_users",
			Help: "Registered users.",
		}, func() float64 { return float64(store.Count()) }),
	}
	m.registry.MustRegister(m.loginAttempts, m.signups, m.users)
	return m
}
