package dispatch

import (
	"fmt"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/VictoriaMetrics/metrics"
)

type dispatchMetrics struct {
	dispatched     [completion.NumKinds]*metrics.Counter
	droppedUnknown *metrics.Counter
	droppedUnset   *metrics.Counter
	malformed      *metrics.Counter
	failures       *metrics.Counter
}

func newDispatchMetrics(set *metrics.Set) *dispatchMetrics {
	m := &dispatchMetrics{
		droppedUnknown: set.GetOrCreateCounter(`kvbind_dispatch_dropped_total{reason="unknown_handle"}`),
		droppedUnset:   set.GetOrCreateCounter(`kvbind_dispatch_dropped_total{reason="unset_slot"}`),
		malformed:      set.GetOrCreateCounter(`kvbind_dispatch_malformed_total`),
		failures:       set.GetOrCreateCounter(`kvbind_dispatch_continuation_failures_total`),
	}
	for _, k := range completion.Kinds() {
		m.dispatched[k] = set.GetOrCreateCounter(fmt.Sprintf(`kvbind_dispatch_completions_total{kind=%q}`, k.String()))
	}
	return m
}
