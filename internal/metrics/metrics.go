// Package metrics exposes the node's counters and timers through
// rcrowley/go-metrics, the same registry style used elsewhere in the
// pack for operational instrumentation.
package metrics

import "github.com/rcrowley/go-metrics"

// Registry bundles the node's named metrics. Each field is created once
// in New and never replaced, so handlers can capture them by value.
type Registry struct {
	reg metrics.Registry

	RPCsReceived   metrics.Counter // total inbound RPCs, by-verb breakdown via RPCsByVerb
	RPCsByVerb     map[string]metrics.Counter
	RPCLatency     metrics.Timer // round-trip latency of outbound RPCs
	LookupsStarted metrics.Counter
	LookupsDone    metrics.Counter
	LookupLatency  metrics.Timer
	StoreFailures  metrics.Counter // value-store replication failures
	Reorgs         metrics.Counter
}

var verbs = []string{"PING", "STORE", "FIND_NODE", "FIND_VALUE", "JOIN", "SHUTDOWN"}

// New builds a fresh Registry with every metric registered under a
// "kadledger." namespace.
func New() *Registry {
	reg := metrics.NewRegistry()
	r := &Registry{
		reg:            reg,
		RPCsReceived:   metrics.NewRegisteredCounter("kadledger.rpc.received", reg),
		RPCsByVerb:     make(map[string]metrics.Counter, len(verbs)),
		RPCLatency:     metrics.NewRegisteredTimer("kadledger.rpc.latency", reg),
		LookupsStarted: metrics.NewRegisteredCounter("kadledger.lookup.started", reg),
		LookupsDone:    metrics.NewRegisteredCounter("kadledger.lookup.done", reg),
		LookupLatency:  metrics.NewRegisteredTimer("kadledger.lookup.latency", reg),
		StoreFailures:  metrics.NewRegisteredCounter("kadledger.store.failures", reg),
		Reorgs:         metrics.NewRegisteredCounter("kadledger.ledger.reorgs", reg),
	}
	for _, v := range verbs {
		r.RPCsByVerb[v] = metrics.NewRegisteredCounter("kadledger.rpc.received."+v, reg)
	}
	return r
}

// RecordRPC increments the total and per-verb inbound RPC counters. An
// unknown verb is dropped from the per-verb breakdown but still counted
// in the total.
func (r *Registry) RecordRPC(verb string) {
	r.RPCsReceived.Inc(1)
	if c, ok := r.RPCsByVerb[verb]; ok {
		c.Inc(1)
	}
}

// Snapshot returns a point-in-time view of every metric, keyed by name,
// suitable for logging or a debug endpoint.
func (r *Registry) Snapshot() map[string]interface{} {
	out := make(map[string]interface{})
	r.reg.Each(func(name string, i interface{}) {
		out[name] = i
	})
	return out
}
