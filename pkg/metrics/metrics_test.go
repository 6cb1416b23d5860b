package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectOne(t *testing.T, c *Collector, name string) *dto.Metric {
	t.Helper()
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	families, err := registry.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() == name {
			require.Len(t, mf.Metric, 1)
			return mf.Metric[0]
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestCollectReportsUpdatedSnapshot(t *testing.T) {
	c := New(nil)
	c.Update(Snapshot{
		ARPCacheEntries: 3,
		DHCPBound:       true,
		TFTPBytesSent:   1024,
	})

	m := collectOne(t, c, "umon_arp_cache_entries")
	assert.Equal(t, float64(3), m.GetGauge().GetValue())

	m = collectOne(t, c, "umon_dhcp_bound")
	assert.Equal(t, float64(1), m.GetGauge().GetValue())

	m = collectOne(t, c, "umon_tftp_bytes_sent_total")
	assert.Equal(t, float64(1024), m.GetCounter().GetValue())
}

func TestCollectReflectsDHCPUnbound(t *testing.T) {
	c := New(nil)
	c.Update(Snapshot{DHCPBound: false})
	m := collectOne(t, c, "umon_dhcp_bound")
	assert.Equal(t, float64(0), m.GetGauge().GetValue())
}
