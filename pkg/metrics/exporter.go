package metrics

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/physician/pkg/resources"
)

// SlotUsage reports the physics session pool
type SlotUsage func() (resources.Usage, error)

// Handler serves the hand-written host and slot gauges followed by every
// registered instrument.
func (m *Metrics) Handler(slots SlotUsage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(w, "# HELP physician_uptime_seconds Time since the server started\n")
		fmt.Fprintf(w, "# TYPE physician_uptime_seconds gauge\n")
		fmt.Fprintf(w, "physician_uptime_seconds %s\n", m.uptime())

		if slots != nil {
			if usage, err := slots(); err == nil {
				fmt.Fprintf(w, "\n# HELP physician_physics_sessions_capacity Physics session slots\n")
				fmt.Fprintf(w, "# TYPE physician_physics_sessions_capacity gauge\n")
				fmt.Fprintf(w, "physician_physics_sessions_capacity %d\n", usage.Capacity)
				fmt.Fprintf(w, "\n# HELP physician_physics_sessions_available Free physics session slots\n")
				fmt.Fprintf(w, "# TYPE physician_physics_sessions_available gauge\n")
				fmt.Fprintf(w, "physician_physics_sessions_available %d\n", usage.Available)
				fmt.Fprintf(w, "\n# HELP physician_physics_sessions_reclaimed_total Lingering sessions force-released\n")
				fmt.Fprintf(w, "# TYPE physician_physics_sessions_reclaimed_total counter\n")
				fmt.Fprintf(w, "physician_physics_sessions_reclaimed_total %d\n", usage.Reclaimed)
			}
		}

		host := CollectHostStats()
		fmt.Fprintf(w, "\n# HELP physician_host_memory_used_percent Host memory in use\n")
		fmt.Fprintf(w, "# TYPE physician_host_memory_used_percent gauge\n")
		fmt.Fprintf(w, "physician_host_memory_used_percent %.2f\n", host.MemoryUsedPercent)
		fmt.Fprintf(w, "\n# HELP physician_host_cpu_percent Host CPU utilisation\n")
		fmt.Fprintf(w, "# TYPE physician_host_cpu_percent gauge\n")
		fmt.Fprintf(w, "physician_host_cpu_percent %.2f\n", host.CPUPercent)
		fmt.Fprintf(w, "\n")

		families, err := m.registry.Gather()
		if err != nil {
			fmt.Fprintf(w, "# Error gathering metrics: %v\n", err)
			return
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range families {
			if err := encoder.Encode(mf); err != nil {
				fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
			}
		}
		w.Write(buf.Bytes())
	})
}
