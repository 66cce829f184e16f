package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	apperrors "github.com/utafrali/account-service/pkg/errors"
	"github.com/utafrali/account-service/pkg/validator"
)

// Metrics counts account lifecycle operations by outcome.
type Metrics struct {
	LifecycleEvents *prometheus.CounterVec
}

// NewMetrics creates the lifecycle collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LifecycleEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_lifecycle_events_total",
				Help: "Account operations by operation and outcome (success or error code)",
			},
			[]string{"operation", "outcome"},
		),
	}
	reg.MustRegister(m.LifecycleEvents)
	return m
}

// outcome labels err by its client-facing code. Internal failures share one label.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return "VALIDATION_ERROR"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && apperrors.IsClientError(err) {
		return appErr.Code
	}
	return "error"
}
