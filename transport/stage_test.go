package transport

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iotaledger/scylla-go/frame"
)

func startEchoStage(t *testing.T, cfg StageConfig) (*Stage, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	go echoServer(&fakeServer{conn: server})

	stage, err := NewStage(client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		stage.Close()
		server.Close()
	})
	return stage, server
}

func awaitOutcome(t *testing.T, w *testWorker) workerOutcome {
	t.Helper()
	select {
	case out := <-w.ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for worker outcome")
		return workerOutcome{}
	}
}

func TestStageRequestResponseRouting(t *testing.T) {
	t.Parallel()
	cfg := DefaultStageConfig()
	cfg.ReporterCount = 4
	cfg.Streams = 64
	stage, _ := startEchoStage(t, cfg)

	reporters := stage.Reporters()
	require.Len(t, reporters, 4)

	type submitted struct {
		worker   *testWorker
		reporter int
		marker   string
	}
	var subs []submitted
	for i := 0; i < 32; i++ {
		w := newTestWorker()
		ri := i % len(reporters)
		marker := fmt.Sprintf("SELECT %02d FROM t", i)
		reporters[ri].Execute(w, queryFrame(t, marker))
		subs = append(subs, submitted{worker: w, reporter: ri, marker: marker})
	}

	appendsNum := cfg.Streams / cfg.ReporterCount
	for _, sub := range subs {
		out := awaitOutcome(t, sub.worker)
		require.NoError(t, out.err)

		// The echoed body carries the marker, so the response reached
		// exactly the worker that sent it.
		require.Truef(t, bytes.Contains(out.payload, []byte(sub.marker)),
			"response for %q went to the wrong worker", sub.marker)

		// Responder routing: the stream ID belongs to the owning
		// reporter's slice.
		id := int(streamOf(out.payload))
		require.Equal(t, sub.reporter, id/appendsNum)
	}
}

func TestStageStreamIDsUnique(t *testing.T) {
	t.Parallel()
	cfg := DefaultStageConfig()
	cfg.ReporterCount = 2
	cfg.Streams = 64

	client, server := net.Pipe()
	srv := &fakeServer{conn: server}

	stage, err := NewStage(client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		stage.Close()
		server.Close()
	})

	// Hold all responses back, then assert every in-flight request got a
	// distinct stream ID.
	const inFlight = 32
	workers := make([]*testWorker, inFlight)
	for i := range workers {
		workers[i] = newTestWorker()
		stage.Reporters()[i%2].Execute(workers[i], queryFrame(t, fmt.Sprintf("q%d", i)))
	}

	seen := map[frame.StreamID]struct{}{}
	for i := 0; i < inFlight; i++ {
		h, _, err := srv.readFrame()
		require.NoError(t, err)
		_, dup := seen[h.StreamID]
		require.Falsef(t, dup, "stream ID %d reused while in flight", h.StreamID)
		seen[h.StreamID] = struct{}{}
		require.NoError(t, srv.writeFrame(frame.OpResult, h.StreamID, nil))
	}
	for _, w := range workers {
		out := awaitOutcome(t, w)
		require.NoError(t, out.err)
	}
}

func TestStageOverload(t *testing.T) {
	t.Parallel()
	cfg := DefaultStageConfig()
	cfg.ReporterCount = 2
	cfg.Streams = 4 // two stream IDs per reporter

	client, server := net.Pipe()
	// Absorb writes without ever responding.
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	stage, err := NewStage(client, cfg)
	require.NoError(t, err)

	r := stage.Reporters()[0]
	w1, w2, w3 := newTestWorker(), newTestWorker(), newTestWorker()
	r.Execute(w1, queryFrame(t, "a"))
	r.Execute(w2, queryFrame(t, "b"))
	r.Execute(w3, queryFrame(t, "c"))

	out := awaitOutcome(t, w3)
	require.ErrorIs(t, out.err, ErrOverload)

	// The two outstanding workers observe the session teardown.
	stage.Close()
	server.Close()
	require.ErrorIs(t, awaitOutcome(t, w1).err, ErrLost)
	require.ErrorIs(t, awaitOutcome(t, w2).err, ErrLost)
}

func TestStageSessionLostOnPeerClose(t *testing.T) {
	t.Parallel()
	cfg := DefaultStageConfig()
	cfg.ReporterCount = 1
	cfg.Streams = 8

	client, server := net.Pipe()
	srv := &fakeServer{conn: server}

	stage, err := NewStage(client, cfg)
	require.NoError(t, err)
	t.Cleanup(stage.Close)

	w := newTestWorker()
	stage.Reporters()[0].Execute(w, queryFrame(t, "q"))
	_, _, err = srv.readFrame()
	require.NoError(t, err)

	// Peer closes mid-request: the worker must hear about it, nothing is
	// silently dropped.
	server.Close()
	require.ErrorIs(t, awaitOutcome(t, w).err, ErrLost)

	select {
	case <-stage.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stage did not report its death")
	}

	// Requests after the loss fail fast.
	w2 := newTestWorker()
	stage.Reporters()[0].Execute(w2, queryFrame(t, "late"))
	require.ErrorIs(t, awaitOutcome(t, w2).err, ErrLost)
}

func TestStageErrorFrameReachesWorkerAsError(t *testing.T) {
	t.Parallel()
	cfg := DefaultStageConfig()
	cfg.ReporterCount = 1
	cfg.Streams = 8

	client, server := net.Pipe()
	srv := &fakeServer{conn: server}
	go func() {
		h, _, err := srv.readFrame()
		if err != nil {
			return
		}
		srv.writeFrame(frame.OpError, h.StreamID, unpreparedErrorBody(make([]byte, 16)))
	}()

	stage, err := NewStage(client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		stage.Close()
		server.Close()
	})

	w := newTestWorker()
	stage.Reporters()[0].Execute(w, queryFrame(t, "q"))
	out := awaitOutcome(t, w)
	require.Error(t, out.err)

	var cql CqlError
	require.True(t, errors.As(out.err, &cql))
}

func TestStageConfigValidate(t *testing.T) {
	t.Parallel()
	cfg := DefaultStageConfig()
	cfg.Streams = 6
	cfg.ReporterCount = 4
	require.Error(t, cfg.validate())

	cfg = DefaultStageConfig()
	cfg.Streams = totalStreams + 1
	require.Error(t, cfg.validate())

	cfg = DefaultStageConfig()
	cfg.ReporterCount = 0
	require.Error(t, cfg.validate())

	cfg = DefaultStageConfig()
	require.NoError(t, cfg.validate())
}
