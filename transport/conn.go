package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/iotaledger/scylla-go/frame"
	. "github.com/iotaledger/scylla-go/frame/request"
	. "github.com/iotaledger/scylla-go/frame/response"
)

type ConnConfig struct {
	Username string
	Password string
	Keyspace string

	// Compression is the STARTUP option value, "" disables compression.
	Compression string

	TCPNoDelay     bool
	Timeout        time.Duration
	RecvBufferSize int
	SendBufferSize int

	DefaultConsistency frame.Consistency
	Logger             Logger
}

func DefaultConnConfig(keyspace string) ConnConfig {
	return ConnConfig{
		Keyspace:           keyspace,
		TCPNoDelay:         true,
		Timeout:            5 * time.Second,
		DefaultConsistency: frame.LOCALQUORUM,
		Logger:             DefaultLogger{},
	}
}

const ioBufferSize = 8192

// Conn is a synchronous request/response CQL connection used for the
// handshake and admin queries. It keeps a single request in flight on
// stream 0; high-throughput traffic runs on stages instead, which adopt
// the socket via Detach after the handshake.
type Conn struct {
	conn  net.Conn
	r     *bufio.Reader
	buf   frame.Buffer
	compr frame.Compressor
	cfg   ConnConfig

	shardInfo ShardInfo
	dc        string
	tokens    []Token

	// startup flips after STARTUP, later frames may be compressed.
	startup bool

	mu        sync.Mutex
	detached  bool
	closeOnce sync.Once
}

// OpenShardConn opens a connection mapped to a specific shard on a scylla
// node, going through the shard aware port when the node announces one.
func OpenShardConn(ctx context.Context, addr string, si ShardInfo, cfg ConnConfig) (*Conn, error) {
	if si.ShardAwarePort != 0 {
		shardAddr, err := replacePort(addr, int(si.ShardAwarePort))
		if err != nil {
			return nil, err
		}
		it := ShardPortIterator(si)
		maxTries := (maxPort-minPort+1)/int(si.NrShards) + 1
		for i := 0; i < maxTries; i++ {
			conn, err := OpenLocalPortConn(ctx, shardAddr, it(), cfg)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if conn.Shard() == si.Shard {
				return conn, nil
			}
			// A NAT in the path rewrote our source port.
			conn.Close()
		}
		return nil, fmt.Errorf("failed to open connection on shard port: all local ports are busy")
	}

	// Fallback: keep dialing the normal port until we land on the wanted
	// shard, expected NrShards attempts.
	maxTries := 4 * int(si.NrShards)
	for i := 0; i < maxTries; i++ {
		conn, err := OpenConn(ctx, addr, nil, cfg)
		if err != nil {
			return nil, err
		}
		if conn.Shard() == si.Shard {
			return conn, nil
		}
		conn.Close()
	}
	return nil, fmt.Errorf("failed to land on shard %d of %s after %d attempts", si.Shard, addr, maxTries)
}

// OpenLocalPortConn opens a connection bound to a given local port.
func OpenLocalPortConn(ctx context.Context, addr string, localPort uint16, cfg ConnConfig) (*Conn, error) {
	localAddr, err := net.ResolveTCPAddr("tcp", ":"+strconv.Itoa(int(localPort)))
	if err != nil {
		return nil, fmt.Errorf("resolving local TCP address: %w", err)
	}

	return OpenConn(ctx, addr, localAddr, cfg)
}

// OpenConn opens a connection with a specific local address.
// In case localAddr is nil, a random local address is used.
func OpenConn(ctx context.Context, addr string, localAddr *net.TCPAddr, cfg ConnConfig) (*Conn, error) {
	d := net.Dialer{
		Timeout:   cfg.Timeout,
		LocalAddr: localAddr,
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing TCP address %s: %w", addr, err)
	}

	tcpConn := conn.(*net.TCPConn)
	if err := tcpConn.SetNoDelay(cfg.TCPNoDelay); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting TCP no delay option: %w", err)
	}
	if cfg.RecvBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(cfg.RecvBufferSize); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting TCP receive buffer size: %w", err)
		}
	}
	if cfg.SendBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(cfg.SendBufferSize); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting TCP send buffer size: %w", err)
		}
	}

	return WrapConn(ctx, tcpConn, cfg)
}

// WrapConn performs the CQL handshake over an established connection.
func WrapConn(ctx context.Context, conn net.Conn, cfg ConnConfig) (*Conn, error) {
	compr, err := frame.NewCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultLogger{}
	}
	c := &Conn{
		conn:  conn,
		r:     bufio.NewReaderSize(conn, ioBufferSize),
		compr: compr,
		cfg:   cfg,
	}
	if err := c.init(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// init negotiates the connection per the CQL v4 handshake. All frames up
// to and including STARTUP go uncompressed.
func (c *Conn) init(ctx context.Context) error {
	sup, err := c.Options(ctx)
	if err != nil {
		return fmt.Errorf("handshake OPTIONS: %w", err)
	}
	si, err := ParseShardInfo(sup)
	if err != nil {
		return fmt.Errorf("handshake: unsupported server: %w", err)
	}
	c.shardInfo = si

	opts := frame.StringMap{frame.CQLVersionOption: frame.CQLVersion}
	if c.cfg.Compression != "" {
		opts[frame.CompressionOption] = c.cfg.Compression
	}
	res, err := c.sendRequest(ctx, &Startup{Options: opts})
	if err != nil {
		return fmt.Errorf("handshake STARTUP: %w", err)
	}
	c.startup = true

	switch v := res.(type) {
	case *Ready:
		return nil
	case *Authenticate:
		return c.authenticate(ctx)
	default:
		return fmt.Errorf("handshake: unexpected STARTUP response %T, %+v", v, v)
	}
}

func (c *Conn) authenticate(ctx context.Context) error {
	if c.cfg.Username == "" {
		return fmt.Errorf("server requires authentication but no credentials given")
	}
	res, err := c.sendRequest(ctx, NewPlainAuthResponse(c.cfg.Username, c.cfg.Password))
	if err != nil {
		return fmt.Errorf("handshake AUTH_RESPONSE: %w", err)
	}
	switch v := res.(type) {
	case *AuthSuccess:
		return nil
	case *AuthChallenge:
		// Multi-step SASL is not supported, PLAIN completes in one round.
		return fmt.Errorf("handshake: multi-step SASL challenge not supported")
	default:
		return fmt.Errorf("handshake: unexpected AUTH_RESPONSE response %T, %+v", v, v)
	}
}

func (c *Conn) Shard() uint16 {
	return c.shardInfo.Shard
}

func (c *Conn) ShardInfo() ShardInfo {
	return c.shardInfo
}

func (c *Conn) Options(ctx context.Context) (*Supported, error) {
	res, err := c.sendRequest(ctx, &Options{})
	if err != nil {
		return nil, err
	}
	sup, ok := res.(*Supported)
	if !ok {
		return nil, responseAsError(res)
	}
	return sup, nil
}

var nodeInfoQuery = Statement{
	Content:     "SELECT data_center, tokens FROM system.local WHERE key='local'",
	Consistency: frame.ONE,
}

// FetchNodeInfo stores the data center name and token list of this node,
// later read with DC and Tokens.
func (c *Conn) FetchNodeInfo(ctx context.Context) error {
	res, err := c.Query(ctx, nodeInfoQuery, nil)
	if err != nil {
		return fmt.Errorf("query system.local: %w", err)
	}
	if len(res.Rows) < 1 || len(res.Rows[0]) < 2 {
		return fmt.Errorf("system.local returned no usable row")
	}

	dc, err := res.Rows[0][0].AsText()
	if err != nil {
		return fmt.Errorf("parsing data_center: %w", err)
	}

	raw, err := res.Rows[0][1].AsStringSlice()
	if err != nil {
		return fmt.Errorf("parsing tokens: %w", err)
	}
	tokens := make([]Token, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing token %q: %w", s, err)
		}
		tokens[i] = Token(v)
	}

	c.dc = dc
	c.tokens = tokens
	return nil
}

func (c *Conn) DC() string {
	return c.dc
}

func (c *Conn) Tokens() []Token {
	return c.tokens
}

func (c *Conn) Query(ctx context.Context, s Statement, pagingState frame.Bytes) (QueryResult, error) {
	req := makeQuery(s, pagingState)
	res, err := c.sendRequest(ctx, &req)
	if err != nil {
		return QueryResult{}, err
	}
	return MakeQueryResult(res)
}

func (c *Conn) Execute(ctx context.Context, s Statement, pagingState frame.Bytes) (QueryResult, error) {
	req := makeExecute(s, pagingState)
	res, err := c.sendRequest(ctx, &req)
	if err != nil {
		return QueryResult{}, err
	}
	return MakeQueryResult(res)
}

// Prepare returns a copy of the statement filled with the prepared ID and
// binding metadata.
func (c *Conn) Prepare(ctx context.Context, s Statement) (Statement, error) {
	res, err := c.sendRequest(ctx, &Prepare{Query: s.Content})
	if err != nil {
		return Statement{}, err
	}

	p, ok := res.(*PreparedResult)
	if !ok {
		return Statement{}, responseAsError(res)
	}

	s.ID = p.ID
	s.PkIndexes = p.Metadata.PkIndexes
	s.PkCnt = p.Metadata.PkCnt
	s.Values = make([]frame.Value, len(p.Metadata.Columns))
	s.Metadata = &p.ResultMetadata
	return s, nil
}

// sendRequest writes one frame and reads its response on stream 0. The
// context bounds the whole round trip through the socket deadline.
func (c *Conn) sendRequest(ctx context.Context, req frame.Request) (frame.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil, fmt.Errorf("connection detached")
	}

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	} else if c.cfg.Timeout > 0 {
		deadline = time.Now().Add(c.cfg.Timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if err := c.send(req); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	res, err := c.recv()
	if err != nil {
		return nil, err
	}
	if coded, ok := res.(CodedError); ok {
		return nil, CqlError{Coded: coded}
	}
	return res, nil
}

func (c *Conn) send(req frame.Request) error {
	c.buf.Reset()

	// Dump request with header to buffer.
	h := frame.Header{
		Version: frame.CQLv4,
		OpCode:  req.OpCode(),
	}
	h.WriteTo(&c.buf)
	req.WriteTo(&c.buf)
	if err := c.buf.Error(); err != nil {
		return fmt.Errorf("serialize: %w", err)
	}

	b := c.buf.Bytes()
	if c.startup && c.compr != nil && len(b) > frame.HeaderSize {
		compressed, err := c.compr.Compress(b[frame.HeaderSize:])
		if err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		b = append(b[:frame.HeaderSize], compressed...)
		b[1] |= frame.Compression
	}

	// Update length in header.
	binary.BigEndian.PutUint32(b[5:9], uint32(len(b)-frame.HeaderSize))

	_, err := c.conn.Write(b)
	return err
}

func (c *Conn) recv() (frame.Response, error) {
	header := make(frame.Bytes, frame.HeaderSize)
	if _, err := io.ReadFull(c.r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	c.buf.Reset()
	c.buf.Write(header)
	h := frame.ParseHeader(&c.buf)
	if err := c.buf.Error(); err != nil {
		return nil, FrameError{Cause: fmt.Errorf("parse header: %w", err)}
	}

	if h.Length < 0 || h.Length > maxFrameLength {
		return nil, FrameError{Cause: fmt.Errorf("invalid body length: %d", h.Length)}
	}
	body := make(frame.Bytes, h.Length)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if h.Flags&frame.Compression != 0 {
		if c.compr == nil {
			return nil, FrameError{Cause: fmt.Errorf("compressed frame without negotiated compression")}
		}
		var err error
		if body, err = c.compr.Decompress(body); err != nil {
			return nil, FrameError{Cause: err}
		}
	}

	c.buf.Reset()
	c.buf.Write(body)
	ReadTrailers(h, &c.buf)
	res, err := ParseResponse(h.OpCode, &c.buf)
	if err != nil {
		return nil, FrameError{Cause: err}
	}
	return res, nil
}

// Detach hands the raw socket over to a stage. The Conn must not be used
// afterwards, Close becomes a no-op for the socket. Any buffered bytes
// would be lost, the connection is quiescent after the handshake so there
// are none.
func (c *Conn) Detach() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detached = true
	c.conn.SetDeadline(time.Time{})
	return c.conn
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.detached {
			c.conn.Close()
		}
	})
}

// replacePort swaps the port of a host:port address.
func replacePort(addr string, port int) (string, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("split address %q: %w", addr, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
