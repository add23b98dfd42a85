package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_CountersIncrement(t *testing.T) {
	r := New()

	r.MessagesReceived.WithLabelValues("PREPARE").Inc()
	r.MessagesReceived.WithLabelValues("PREPARE").Inc()
	r.InvalidSignatures.Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(r.MessagesReceived.WithLabelValues("PREPARE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.InvalidSignatures))
}

func TestRegistry_DoesNotPanicOnDoubleConstruction(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
