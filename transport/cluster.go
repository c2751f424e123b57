package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/iotaledger/scylla-go/frame"
)

// NodeInfo is the cluster's record of one node, duplicated into ring
// snapshots by value so that topology edits never mutate a published ring.
type NodeInfo struct {
	Addr       string
	DC         DC
	Tokens     []Token
	ShardCount uint16
	Msb        uint8
}

// ServiceState is the coarse health of the cluster's stage fleet.
type ServiceState int32

const (
	StateIdle ServiceState = iota
	StateMaintenance
	StateDegraded
	StateRunning
	StateOutage
)

func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateMaintenance:
		return "Maintenance"
	case StateDegraded:
		return "Degraded"
	case StateRunning:
		return "Running"
	case StateOutage:
		return "Outage"
	default:
		return fmt.Sprintf("ServiceState(%d)", int32(s))
	}
}

// registry maps a shard-encoded address to the reporter handles of its
// live stage. The port field of the key carries the shard ID.
type registry struct {
	mu sync.RWMutex
	m  map[string][]*Reporter
}

// shardKey reuses the port position of an address to encode the shard.
func shardKey(addr string, shard uint16) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.JoinHostPort(host, strconv.Itoa(int(shard)))
}

func (r *registry) set(addr string, shard uint16, reporters []*Reporter) {
	r.mu.Lock()
	r.m[shardKey(addr, shard)] = reporters
	r.mu.Unlock()
}

func (r *registry) remove(addr string, shard uint16) {
	r.mu.Lock()
	delete(r.m, shardKey(addr, shard))
	r.mu.Unlock()
}

func (r *registry) reporters(addr string, shard uint16) []*Reporter {
	r.mu.RLock()
	h := r.m[shardKey(addr, shard)]
	r.mu.RUnlock()
	return h
}

func (r *registry) liveShards(addr string, shardCount uint16) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live := 0
	for shard := uint16(0); shard < shardCount; shard++ {
		if len(r.m[shardKey(addr, shard)]) > 0 {
			live++
		}
	}
	return live
}

type ClusterConfig struct {
	Conn    ConnConfig
	Stage   StageConfig
	LocalDC DC

	// RetryBudget is the default retry count of workers built by the
	// cluster's send helpers.
	RetryBudget int
	// ReconnectInterval paces stage reconnect attempts after a session
	// loss.
	ReconnectInterval time.Duration

	Logger  Logger
	Metrics *Metrics
}

func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		Conn:              DefaultConnConfig(""),
		Stage:             DefaultStageConfig(),
		RetryBudget:       1,
		ReconnectInterval: 5 * time.Second,
		Logger:            DefaultLogger{},
	}
}

type cmdKind byte

const (
	cmdAddNode cmdKind = iota
	cmdRemoveNode
	cmdUpsertKeyspace
	cmdRemoveKeyspace
	cmdBuildRing
)

type command struct {
	kind     cmdKind
	addr     string
	keyspace string
	strategy ReplicationStrategy
	reply    chan error
}

type clusterNode struct {
	info NodeInfo
	si   ShardInfo
	// removed tells the node's stage supervisors to stop.
	removed chan struct{}
}

// Cluster owns the topology table, the reporter registry and the ring
// holder. Topology commands are serialized through one command task.
type Cluster struct {
	cfg   ClusterConfig
	cmdCh chan command

	// nodesMu guards nodes; the command task writes, state recomputation
	// from stage supervisors reads.
	nodesMu   sync.RWMutex
	nodes     map[string]*clusterNode
	keyspaces map[string]ReplicationStrategy

	registry registry
	holder   RingHolder
	version  atomic.Uint64
	state    atomic.Int32

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    Logger
}

// NewCluster starts the command task. Nodes are added through AddNode and
// a ring becomes available after the first successful BuildRing.
func NewCluster(cfg ClusterConfig) (*Cluster, error) {
	if err := cfg.Stage.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultLogger{}
	}
	cfg.Stage.Compression = cfg.Conn.Compression
	cfg.Stage.Logger = cfg.Logger
	cfg.Stage.Metrics = cfg.Metrics

	c := &Cluster{
		cfg:       cfg,
		cmdCh:     make(chan command),
		nodes:     make(map[string]*clusterNode),
		keyspaces: make(map[string]ReplicationStrategy),
		registry:  registry{m: make(map[string][]*Reporter)},
		closed:    make(chan struct{}),
		logger:    cfg.Logger,
	}
	c.wg.Add(1)
	go c.commandLoop()
	return c, nil
}

// State reports the current service state.
func (c *Cluster) State() ServiceState {
	return ServiceState(c.state.Load())
}

// Ring returns the ring holder for view caching by hot-path readers.
func (c *Cluster) Ring() *RingHolder {
	return &c.holder
}

// Compressor returns the compressor workers decode response frames with,
// nil when compression is off.
func (c *Cluster) Compressor() frame.Compressor {
	compr, _ := frame.NewCompressor(c.cfg.Conn.Compression)
	return compr
}

func (c *Cluster) AddNode(ctx context.Context, addr string) error {
	return c.do(ctx, command{kind: cmdAddNode, addr: addr})
}

func (c *Cluster) RemoveNode(ctx context.Context, addr string) error {
	return c.do(ctx, command{kind: cmdRemoveNode, addr: addr})
}

func (c *Cluster) UpsertKeyspace(ctx context.Context, name string, strategy ReplicationStrategy) error {
	return c.do(ctx, command{kind: cmdUpsertKeyspace, keyspace: name, strategy: strategy})
}

func (c *Cluster) RemoveKeyspace(ctx context.Context, name string) error {
	return c.do(ctx, command{kind: cmdRemoveKeyspace, keyspace: name})
}

// BuildRing publishes a new ring generation from the current node and
// keyspace tables. It refuses with ErrUnstableCluster while any node has
// fewer live shard connections than its shard count.
func (c *Cluster) BuildRing(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdBuildRing})
}

func (c *Cluster) do(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("cluster closed")
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cluster) commandLoop() {
	defer c.wg.Done()
	for {
		select {
		case cmd := <-c.cmdCh:
			c.state.Store(int32(StateMaintenance))
			var err error
			switch cmd.kind {
			case cmdAddNode:
				err = c.addNode(cmd.addr)
			case cmdRemoveNode:
				err = c.removeNode(cmd.addr)
			case cmdUpsertKeyspace:
				c.keyspaces[cmd.keyspace] = cmd.strategy
			case cmdRemoveKeyspace:
				if _, ok := c.keyspaces[cmd.keyspace]; !ok {
					err = ErrUnknownKeyspace
				} else {
					delete(c.keyspaces, cmd.keyspace)
				}
			case cmdBuildRing:
				err = c.buildRing()
			}
			c.updateState()
			cmd.reply <- err
		case <-c.closed:
			c.nodesMu.Lock()
			for addr, n := range c.nodes {
				close(n.removed)
				delete(c.nodes, addr)
			}
			c.nodesMu.Unlock()
			c.updateState()
			return
		}
	}
}

// addNode opens a transient connection for metadata, then starts one stage
// supervisor per shard.
func (c *Cluster) addNode(addr string) error {
	c.nodesMu.RLock()
	_, ok := c.nodes[addr]
	c.nodesMu.RUnlock()
	if ok {
		return ErrDuplicateNode
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*c.cfg.Conn.Timeout+time.Second)
	defer cancel()
	conn, err := OpenConn(ctx, addr, nil, c.cfg.Conn)
	if err != nil {
		return ConnectFailure{Addr: addr, Cause: err}
	}
	if err := conn.FetchNodeInfo(ctx); err != nil {
		conn.Close()
		return ConnectFailure{Addr: addr, Cause: err}
	}
	si := conn.ShardInfo()
	info := NodeInfo{
		Addr:       addr,
		DC:         conn.DC(),
		Tokens:     conn.Tokens(),
		ShardCount: si.NrShards,
		Msb:        si.Msb,
	}
	conn.Close()

	node := &clusterNode{
		info:    info,
		si:      si,
		removed: make(chan struct{}),
	}
	c.nodesMu.Lock()
	c.nodes[addr] = node
	c.nodesMu.Unlock()

	for shard := uint16(0); shard < si.NrShards; shard++ {
		c.wg.Add(1)
		go c.superviseStage(node, shard)
	}
	c.logger.Printf("cluster: added node %s dc=%s shards=%d", addr, info.DC, si.NrShards)
	return nil
}

func (c *Cluster) removeNode(addr string) error {
	c.nodesMu.Lock()
	node, ok := c.nodes[addr]
	if ok {
		delete(c.nodes, addr)
	}
	c.nodesMu.Unlock()
	if !ok {
		return ErrUnknownNode
	}
	close(node.removed)
	c.logger.Printf("cluster: removed node %s", addr)
	return nil
}

// superviseStage keeps one (node, shard) stage alive until the node is
// removed or the cluster closes. Workers in flight during a session loss
// observe ErrLost from the dying stage, reconnects are invisible to them.
func (c *Cluster) superviseStage(node *clusterNode, shard uint16) {
	defer c.wg.Done()
	addr := node.info.Addr
	for {
		select {
		case <-node.removed:
			return
		case <-c.closed:
			return
		default:
		}

		si := node.si
		si.Shard = shard
		ctx, cancel := context.WithTimeout(context.Background(), 4*c.cfg.Conn.Timeout+time.Second)
		conn, err := OpenShardConn(ctx, addr, si, c.cfg.Conn)
		cancel()
		if err != nil {
			c.logger.Printf("cluster: shard %d of %s: %v", shard, addr, err)
			select {
			case <-time.After(c.cfg.ReconnectInterval):
				continue
			case <-node.removed:
				return
			case <-c.closed:
				return
			}
		}

		stage, err := NewStage(conn.Detach(), c.cfg.Stage)
		if err != nil {
			c.logger.Printf("cluster: stage for shard %d of %s: %v", shard, addr, err)
			return
		}
		c.registry.set(addr, shard, stage.Reporters())
		c.updateState()

		select {
		case <-stage.Done():
			c.registry.remove(addr, shard)
			c.updateState()
			c.logger.Printf("cluster: lost session to shard %d of %s", shard, addr)
			select {
			case <-time.After(c.cfg.ReconnectInterval):
			case <-node.removed:
				return
			case <-c.closed:
				return
			}
		case <-node.removed:
			c.registry.remove(addr, shard)
			stage.Close()
			c.updateState()
			return
		case <-c.closed:
			c.registry.remove(addr, shard)
			stage.Close()
			c.updateState()
			return
		}
	}
}

func (c *Cluster) buildRing() error {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	nodes := make([]NodeInfo, 0, len(c.nodes))
	for _, n := range c.nodes {
		if live := c.registry.liveShards(n.info.Addr, n.info.ShardCount); live < int(n.info.ShardCount) {
			return fmt.Errorf("%w: node %s has %d of %d shards", ErrUnstableCluster, n.info.Addr, live, n.info.ShardCount)
		}
		nodes = append(nodes, n.info)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrUnstableCluster)
	}

	ring, err := BuildTokenRing(c.version.Inc(), c.cfg.LocalDC, nodes, c.keyspaces)
	if err != nil {
		return err
	}
	c.holder.Publish(ring)
	c.cfg.Metrics.incRingRebuilds()
	c.logger.Printf("cluster: published ring generation %d", ring.Generation())
	return nil
}

// updateState recomputes the coarse service state from registry liveness.
func (c *Cluster) updateState() {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	if len(c.nodes) == 0 {
		c.state.Store(int32(StateIdle))
		return
	}
	total, live := 0, 0
	for _, n := range c.nodes {
		total += int(n.info.ShardCount)
		live += c.registry.liveShards(n.info.Addr, n.info.ShardCount)
	}
	switch {
	case live == 0:
		c.state.Store(int32(StateOutage))
	case live < total:
		c.state.Store(int32(StateDegraded))
	default:
		c.state.Store(int32(StateRunning))
	}
}

// Close tears down every stage and waits for the supervisors to exit.
// In-flight workers observe ErrLost.
func (c *Cluster) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	c.wg.Wait()
}

// send resolves the replica's shard and hands the request to a uniformly
// chosen reporter of that shard's stage.
func (c *Cluster) send(rep Replica, req Request, w Worker) error {
	shard := ShardOf(req.Token, rep.Msb, rep.ShardCount)
	reporters := c.registry.reporters(rep.Addr, shard)
	if len(reporters) == 0 {
		return fmt.Errorf("%w: no session to shard %d of %s", ErrLost, shard, rep.Addr)
	}
	reporters[rand.Intn(len(reporters))].Execute(w, req.Payload)
	return nil
}

// SendLocalRandom dispatches to a uniformly random replica in the local DC.
func (c *Cluster) SendLocalRandom(req Request, w Worker) error {
	ring := c.holder.Load()
	if ring == nil {
		return ErrNoRing
	}
	replicas := ring.Replicas(req.Token, req.Keyspace, ring.LocalDC())
	if len(replicas) == 0 {
		return ErrNoReplica
	}
	return c.send(replicas[rand.Intn(len(replicas))], req, w)
}

// SendGlobalRandom dispatches to a random replica in a random DC.
func (c *Cluster) SendGlobalRandom(req Request, w Worker) error {
	ring := c.holder.Load()
	if ring == nil {
		return ErrNoRing
	}
	dcs := ring.DCs()
	if len(dcs) == 0 {
		return ErrNoReplica
	}
	replicas := ring.Replicas(req.Token, req.Keyspace, dcs[rand.Intn(len(dcs))])
	if len(replicas) == 0 {
		return ErrNoReplica
	}
	return c.send(replicas[rand.Intn(len(replicas))], req, w)
}

// SendToSpecific dispatches to the replica at the given index of the given
// DC's replica list.
func (c *Cluster) SendToSpecific(dc DC, replicaIndex int, req Request, w Worker) error {
	ring := c.holder.Load()
	if ring == nil {
		return ErrNoRing
	}
	replicas := ring.Replicas(req.Token, req.Keyspace, dc)
	if replicaIndex < 0 || replicaIndex >= len(replicas) {
		if len(replicas) == 0 {
			return ErrNoReplica
		}
		replicaIndex = rand.Intn(len(replicas))
	}
	return c.send(replicas[replicaIndex], req, w)
}

// Send implements RequestSender with the local-random policy, the default
// for worker retries.
func (c *Cluster) Send(req Request, w Worker) error {
	return c.SendLocalRandom(req, w)
}
