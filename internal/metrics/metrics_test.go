package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordRPCIncrementsTotalAndVerb(t *testing.T) {
	r := New()
	r.RecordRPC("PING")
	r.RecordRPC("PING")
	r.RecordRPC("STORE")

	require.EqualValues(t, 3, r.RPCsReceived.Count())
	require.EqualValues(t, 2, r.RPCsByVerb["PING"].Count())
	require.EqualValues(t, 1, r.RPCsByVerb["STORE"].Count())
}

func TestRecordRPCUnknownVerbStillCountsTotal(t *testing.T) {
	r := New()
	r.RecordRPC("BOGUS")
	require.EqualValues(t, 1, r.RPCsReceived.Count())
}

func TestSnapshotIncludesRegisteredMetrics(t *testing.T) {
	r := New()
	snap := r.Snapshot()
	require.Contains(t, snap, "kadledger.rpc.received")
	require.Contains(t, snap, "kadledger.ledger.reorgs")
}
