package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryInstrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)

	s.HeadersProposed.Inc()
	s.CertificatesRejected.WithLabelValues("missing_parent").Inc()
	s.AnchorsSkipped.Inc()
	s.CheckpointDuration.Observe(0.05)
	s.SyncRequestsServed.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"narwhal_headers_proposed_total",
		"narwhal_certificates_rejected_total",
		"narwhal_anchors_skipped_total",
		"narwhal_checkpoint_duration_seconds",
		"narwhal_sync_requests_served_total",
	} {
		require.True(t, names[want], "missing metric family %s", want)
	}
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
