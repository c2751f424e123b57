package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClusterConfig() ClusterConfig {
	cfg := DefaultClusterConfig()
	cfg.Conn.Timeout = 500 * time.Millisecond
	cfg.ReconnectInterval = 50 * time.Millisecond
	return cfg
}

func TestClusterKeyspaceCommands(t *testing.T) {
	t.Parallel()
	c, err := NewCluster(testClusterConfig())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	ctx := context.Background()
	require.NoError(t, c.UpsertKeyspace(ctx, "ks", SimpleStrategy{RF: 2}))
	require.NoError(t, c.UpsertKeyspace(ctx, "ks", NetworkTopologyStrategy{DCFactors: map[DC]int{"us": 3}}))
	require.NoError(t, c.RemoveKeyspace(ctx, "ks"))
	require.ErrorIs(t, c.RemoveKeyspace(ctx, "ks"), ErrUnknownKeyspace)
	require.ErrorIs(t, c.RemoveKeyspace(ctx, "never"), ErrUnknownKeyspace)
}

func TestClusterBuildRingWithoutNodes(t *testing.T) {
	t.Parallel()
	c, err := NewCluster(testClusterConfig())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	err = c.BuildRing(context.Background())
	require.ErrorIs(t, err, ErrUnstableCluster)
	require.Nil(t, c.Ring().Load())
}

func TestClusterAddNodeConnectFailure(t *testing.T) {
	t.Parallel()
	c, err := NewCluster(testClusterConfig())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	// Nothing listens on a reserved port.
	err = c.AddNode(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
	var cf ConnectFailure
	require.True(t, errors.As(err, &cf))
	require.Equal(t, "127.0.0.1:1", cf.Addr)

	require.Equal(t, StateIdle, c.State())
}

func TestClusterRemoveUnknownNode(t *testing.T) {
	t.Parallel()
	c, err := NewCluster(testClusterConfig())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.ErrorIs(t, c.RemoveNode(context.Background(), "10.0.0.1:9042"), ErrUnknownNode)
}

func TestClusterDispatchWithoutRing(t *testing.T) {
	t.Parallel()
	c, err := NewCluster(testClusterConfig())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	w := newTestWorker()
	require.ErrorIs(t, c.SendLocalRandom(Request{Token: 1}, w), ErrNoRing)
	require.ErrorIs(t, c.SendGlobalRandom(Request{Token: 1}, w), ErrNoRing)
	require.ErrorIs(t, c.SendToSpecific("us", 0, Request{Token: 1}, w), ErrNoRing)
}

func TestClusterCommandsAfterClose(t *testing.T) {
	t.Parallel()
	c, err := NewCluster(testClusterConfig())
	require.NoError(t, err)
	c.Close()

	require.Error(t, c.UpsertKeyspace(context.Background(), "ks", SimpleStrategy{RF: 1}))
}

func TestShardKey(t *testing.T) {
	t.Parallel()
	require.Equal(t, "10.0.0.1:3", shardKey("10.0.0.1:9042", 3))
	require.Equal(t, "10.0.0.1:0", shardKey("10.0.0.1:9042", 0))
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := registry{m: map[string][]*Reporter{}}
	require.Empty(t, r.reporters("10.0.0.1:9042", 0))
	require.Equal(t, 0, r.liveShards("10.0.0.1:9042", 4))

	reps := []*Reporter{{}, {}}
	r.set("10.0.0.1:9042", 0, reps)
	r.set("10.0.0.1:9042", 2, reps)
	require.Len(t, r.reporters("10.0.0.1:9042", 0), 2)
	require.Empty(t, r.reporters("10.0.0.1:9042", 1))
	require.Equal(t, 2, r.liveShards("10.0.0.1:9042", 4))

	r.remove("10.0.0.1:9042", 0)
	require.Empty(t, r.reporters("10.0.0.1:9042", 0))
	require.Equal(t, 1, r.liveShards("10.0.0.1:9042", 4))
}

func TestServiceStateString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Idle", StateIdle.String())
	require.Equal(t, "Maintenance", StateMaintenance.String())
	require.Equal(t, "Degraded", StateDegraded.String())
	require.Equal(t, "Running", StateRunning.String())
	require.Equal(t, "Outage", StateOutage.String())
}
