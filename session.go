package scylla

import (
	"context"
	"crypto/md5"
	"fmt"
	"sync"

	"github.com/iotaledger/scylla-go/frame"
	"github.com/iotaledger/scylla-go/frame/response"
	"github.com/iotaledger/scylla-go/transport"
)

type Consistency = frame.Consistency

const (
	ANY         Consistency = 0x0000
	ONE         Consistency = 0x0001
	TWO         Consistency = 0x0002
	THREE       Consistency = 0x0003
	QUORUM      Consistency = 0x0004
	ALL         Consistency = 0x0005
	LOCALQUORUM Consistency = 0x0006
	EACHQUORUM  Consistency = 0x0007
	SERIAL      Consistency = 0x0008
	LOCALSERIAL Consistency = 0x0009
	LOCALONE    Consistency = 0x000A
)

// SendPolicy selects the replica set a request is dispatched to.
type SendPolicy byte

const (
	// SendLocalRandom targets a uniformly random replica in the local DC.
	SendLocalRandom SendPolicy = iota
	// SendGlobalRandom targets a random replica in a random DC.
	SendGlobalRandom
)

var (
	ErrNoHosts     = fmt.Errorf("error in session config: no hosts given")
	ErrConsistency = fmt.Errorf("error in session config: invalid consistency")
)

type SessionConfig struct {
	Hosts   []string
	LocalDC string
	Policy  SendPolicy

	// RetryBudget is how many times a worker re-dispatches on retryable
	// errors before surfacing them.
	RetryBudget int

	transport.ConnConfig
	StageConfig transport.StageConfig
	Metrics     *transport.Metrics
}

func DefaultSessionConfig(keyspace string, hosts ...string) SessionConfig {
	return SessionConfig{
		Hosts:       hosts,
		RetryBudget: 1,
		ConnConfig:  transport.DefaultConnConfig(keyspace),
		StageConfig: transport.DefaultStageConfig(),
	}
}

func (cfg SessionConfig) Clone() SessionConfig {
	v := cfg
	v.Hosts = make([]string, len(cfg.Hosts))
	copy(v.Hosts, cfg.Hosts)
	return v
}

func (cfg *SessionConfig) Validate() error {
	if len(cfg.Hosts) == 0 {
		return ErrNoHosts
	}
	if cfg.DefaultConsistency > LOCALONE {
		return ErrConsistency
	}
	if cfg.Logger == nil {
		cfg.Logger = transport.DefaultLogger{}
	}
	return nil
}

// Session connects the query surface to the cluster: it adds the seed
// nodes, builds the first ring and keeps the table of prepared statement
// texts keyed by their MD5, the stable cross-node identifier.
type Session struct {
	cfg     SessionConfig
	cluster *transport.Cluster

	mu       sync.RWMutex
	prepared map[[md5.Size]byte]string
}

func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	cfg = cfg.Clone()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cluster, err := transport.NewCluster(transport.ClusterConfig{
		Conn:        cfg.ConnConfig,
		Stage:       cfg.StageConfig,
		LocalDC:     cfg.LocalDC,
		RetryBudget: cfg.RetryBudget,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:      cfg,
		cluster:  cluster,
		prepared: make(map[[md5.Size]byte]string),
	}

	for _, host := range cfg.Hosts {
		if err := cluster.AddNode(ctx, host); err != nil {
			cluster.Close()
			return nil, err
		}
	}
	if err := cluster.BuildRing(ctx); err != nil {
		cluster.Close()
		return nil, err
	}
	return s, nil
}

// Cluster exposes the topology command surface, e.g. for an admin REPL.
func (s *Session) Cluster() *transport.Cluster {
	return s.cluster
}

func (s *Session) Query(content string) Query {
	return Query{
		session: s,
		stmt: transport.Statement{
			Content:     content,
			Consistency: s.cfg.DefaultConsistency,
			Keyspace:    s.cfg.Keyspace,
		},
	}
}

// Prepare runs PREPARE on a replica and returns a Query bound to the
// prepared ID. The statement text is remembered under its MD5 key, where
// StatementForKey finds it; workers reprepare from the text carried in
// their own Request, not from this table.
func (s *Session) Prepare(ctx context.Context, content string) (Query, error) {
	req := transport.Request{
		Payload:   transport.MakePrepareFrame(content),
		Token:     transport.MurmurToken([]byte(content)),
		Keyspace:  s.cfg.Keyspace,
		Statement: content,
	}
	w := transport.NewSelectWorker(s.cluster, req, s.cluster.Compressor(), s.cfg.RetryBudget, s.cfg.Logger)
	if err := s.send(req, w); err != nil {
		return Query{}, err
	}

	res, err := awaitWorker(ctx, w)
	if err != nil {
		return Query{}, err
	}
	p, ok := res.Response.(*response.PreparedResult)
	if !ok {
		return Query{}, fmt.Errorf("unexpected PREPARE response %T, %+v", res.Response, res.Response)
	}

	s.rememberStatement(content)

	stmt := transport.Statement{
		ID:          p.ID,
		Content:     content,
		Consistency: s.cfg.DefaultConsistency,
		Keyspace:    s.cfg.Keyspace,
		PkIndexes:   p.Metadata.PkIndexes,
		PkCnt:       p.Metadata.PkCnt,
		Values:      make([]frame.Value, len(p.Metadata.Columns)),
		Metadata:    &p.ResultMetadata,
	}
	for i := range p.Metadata.Columns {
		stmt.Values[i] = frame.Value{Type: &p.Metadata.Columns[i].Type}
	}
	return Query{session: s, stmt: stmt}, nil
}

func (s *Session) rememberStatement(content string) {
	key := md5.Sum([]byte(content))
	s.mu.Lock()
	s.prepared[key] = content
	s.mu.Unlock()
}

// StatementForKey resolves a remembered statement text by its MD5 key.
func (s *Session) StatementForKey(key [md5.Size]byte) (string, bool) {
	s.mu.RLock()
	stmt, ok := s.prepared[key]
	s.mu.RUnlock()
	return stmt, ok
}

func (s *Session) send(req transport.Request, w transport.Worker) error {
	switch s.cfg.Policy {
	case SendGlobalRandom:
		return s.cluster.SendGlobalRandom(req, w)
	default:
		return s.cluster.SendLocalRandom(req, w)
	}
}

func awaitWorker(ctx context.Context, w *transport.RequestWorker) (transport.WorkerResponse, error) {
	select {
	case res := <-w.Response():
		if res.Err != nil {
			return transport.WorkerResponse{}, res.Err
		}
		return res, nil
	case <-ctx.Done():
		return transport.WorkerResponse{}, ctx.Err()
	}
}

func (s *Session) Close() {
	s.cfg.Logger.Println("session: close")
	s.cluster.Close()
}
