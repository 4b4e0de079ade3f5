package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battlewithbytes/modstore/internal/downloads"
)

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	require.NoError(t, c.Register(reg))
	assert.Error(t, c.Register(reg))
}

func TestObserveWiredToRegistry(t *testing.T) {
	c := New()
	reg := downloads.New()
	defer reg.Close()
	reg.Subscribe(c.ObserveSnapshot)
	d := downloads.NewDispatcher(reg, nil, c.ObserveEvent)

	d.Dispatch(downloads.Event{Type: downloads.EventInstallStart, BackendID: "bk1"})
	d.Dispatch(downloads.Event{Type: downloads.EventInstallStart, BackendID: "bk2"})
	d.Dispatch(downloads.Event{Type: downloads.EventInstallSuccess, BackendID: "bk1"})
	d.Dispatch(downloads.Event{Type: downloads.EventInstallSuccess, BackendID: "bk1"})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.EventsTotal.WithLabelValues("install-start", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EventsTotal.WithLabelValues("install-success", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EventsTotal.WithLabelValues("install-success", "ignored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Active))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Records.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Records.WithLabelValues("completed")))
}
