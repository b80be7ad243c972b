package dmm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Station-Manager/types"
)

type mockPort struct {
	readCh  chan []byte
	writeMu sync.Mutex
	writes  [][]byte
	resets  int
	closed  bool
}

func newMockPort() *mockPort {
	return &mockPort{readCh: make(chan []byte, 16)}
}

func (m *mockPort) Read(p []byte) (int, error) {
	b, ok := <-m.readCh
	if !ok {
		return 0, context.Canceled
	}
	n := copy(p, b)
	return n, nil
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	m.writes = append(m.writes, cp)
	return len(p), nil
}

func (m *mockPort) Close() error {
	if !m.closed {
		close(m.readCh)
		m.closed = true
	}
	return nil
}

func (m *mockPort) SetReadTimeout(d time.Duration) error { return nil }

func (m *mockPort) ResetInputBuffer() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.resets++
	return nil
}

func mockLinkConfig() types.SerialConfig {
	return types.SerialConfig{
		PortName: "mock",
		BaudRate: 9600,
		DataBits: 8,
	}
}

func TestExecSingleCommand(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	// simulate a response from the instrument
	mp.readCh <- []byte("HP3457A\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := p.Exec(ctx, "ID?")
	if err != nil {
		t.Fatalf("Exec error: %v", err)
	}
	if resp != "HP3457A" {
		t.Fatalf("expected response HP3457A, got %q", resp)
	}

	if len(mp.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(mp.writes))
	}
	if string(mp.writes[0]) != "ID?\n" {
		t.Fatalf("unexpected written data: %q", string(mp.writes[0]))
	}
}

func TestWriteCommandAppendsDelimiter(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := p.WriteCommand(ctx, "TRIG HOLD"); err != nil {
		t.Fatalf("WriteCommand error: %v", err)
	}
	if err := p.WriteCommand(ctx, "PRESET\n"); err != nil {
		t.Fatalf("WriteCommand error: %v", err)
	}

	if len(mp.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(mp.writes))
	}
	if string(mp.writes[0]) != "TRIG HOLD\n" {
		t.Fatalf("unexpected written data: %q", string(mp.writes[0]))
	}
	if string(mp.writes[1]) != "PRESET\n" {
		t.Fatalf("delimiter must not be duplicated: %q", string(mp.writes[1]))
	}
}

func TestReadResponseChunkedInput(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	// Simulate fragmented input: "1.234E-03\n9.9\n" split over reads.
	mp.readCh <- []byte("1.234")
	mp.readCh <- []byte("E-03\n9.9\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp1, err := p.ReadResponse(ctx)
	if err != nil {
		t.Fatalf("first ReadResponse error: %v", err)
	}
	if resp1 != "1.234E-03" {
		t.Fatalf("expected first response '1.234E-03', got %q", resp1)
	}

	resp2, err := p.ReadResponse(ctx)
	if err != nil {
		t.Fatalf("second ReadResponse error: %v", err)
	}
	if resp2 != "9.9" {
		t.Fatalf("expected second response '9.9', got %q", resp2)
	}
}

func TestReadResponseTimeout(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.ReadResponse(ctx)
	if err == nil {
		t.Fatalf("expected timeout error, got nil")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("ReadResponse returned too early for timeout")
	}
}

func TestCloseUnblocksRead(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.ReadResponse(ctx)
	}()

	// give goroutine time to block in ReadResponse
	time.Sleep(10 * time.Millisecond)

	if err := p.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	select {
	case <-done:
		// ok
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("ReadResponse did not unblock after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	if err := p.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestExecAfterCloseReturnsErrClosed(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	if err := p.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := p.Exec(ctx, "ID?"); err == nil {
		t.Fatalf("expected error from Exec after Close, got nil")
	}
}

func TestFlushDiscardsBufferedLines(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	// A free-running instrument has left readings on the channel.
	mp.readCh <- []byte("1.0E+00\n2.0E+00\n")

	// Wait until the reader loop has buffered both lines.
	deadline := time.After(500 * time.Millisecond)
	for len(p.responses) < 2 {
		select {
		case <-deadline:
			t.Fatalf("reader loop did not buffer expected lines")
		case <-time.After(time.Millisecond):
		}
	}

	if err := p.Flush(); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if mp.resets != 1 {
		t.Fatalf("expected 1 input buffer reset, got %d", mp.resets)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.ReadResponse(ctx); err == nil {
		t.Fatalf("expected no buffered response after Flush")
	}
}

func TestFlushAfterCloseReturnsErrClosed(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	if err := p.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := p.Flush(); err == nil {
		t.Fatalf("expected error from Flush after Close, got nil")
	}
}

// zeroWritePort always reports success but writes 0 bytes, which must be
// treated as an error by WriteCommand to avoid spinning indefinitely.
type zeroWritePort struct{}

func (z *zeroWritePort) Read(p []byte) (int, error)           { return 0, context.Canceled }
func (z *zeroWritePort) Write(p []byte) (int, error)          { return 0, nil }
func (z *zeroWritePort) Close() error                         { return nil }
func (z *zeroWritePort) SetReadTimeout(d time.Duration) error { return nil }
func (z *zeroWritePort) ResetInputBuffer() error              { return nil }

func TestWriteCommandZeroWriteIsError(t *testing.T) {
	p := newPort(&zeroWritePort{}, mockLinkConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := p.WriteCommand(ctx, "PRESET"); err == nil {
		t.Fatalf("expected error when underlying Write returns 0 bytes, got nil")
	}
}

func TestWriteCommandContextCancelledBeforeWrite(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.WriteCommand(ctx, "PRESET"); err == nil {
		t.Fatalf("expected error when context is cancelled before write, got nil")
	}
	if len(mp.writes) != 0 {
		t.Fatalf("expected no writes when context is cancelled, got %d", len(mp.writes))
	}
}

func TestOversizedLineEmitsErrorAndIsDropped(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	// Feed enough data to exceed maxLineSize without any delimiter.
	chunk := make([]byte, readBufSize)
	for i := range chunk {
		chunk[i] = 'A'
	}
	for sent := 0; sent <= maxLineSize+readBufSize; sent += readBufSize {
		mp.readCh <- chunk
	}

	// Close the underlying mock so the reader loop eventually stops.
	close(mp.readCh)

	select {
	case err, ok := <-p.Errors():
		if !ok {
			t.Fatalf("expected error value before channel close")
		}
		if err == nil {
			t.Fatalf("expected non-nil error for oversized line")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for error for oversized line")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// There should be no response line because the oversized line is dropped.
	if _, err := p.ReadResponse(ctx); err == nil {
		t.Fatalf("expected error or timeout when reading after oversized line; got nil")
	}
}

func TestErrorsStreamClosesOnClose(t *testing.T) {
	mp := newMockPort()
	p := newPort(mp, mockLinkConfig())

	if err := p.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	select {
	case _, ok := <-p.Errors():
		if ok {
			t.Fatalf("expected Errors() channel to be closed without value after Close")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for Errors() channel to close after Close")
	}
}
