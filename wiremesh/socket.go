package wiremesh

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gosuda/wiremesh/wiremesh/cryptoops"
	"github.com/rs/zerolog/log"
)

// CipherState is the per-connection symmetric cipher: either absent
// (plaintext) or a pair of directional AEAD instances established
// during the handshake (spec §3 "Cipher State").
type CipherState struct {
	send *cryptoops.AEAD
	recv *cryptoops.AEAD
}

// NewCipherState wraps a send/recv AEAD pair established by the
// handshake (C3).
func NewCipherState(send, recv *cryptoops.AEAD) *CipherState {
	return &CipherState{send: send, recv: recv}
}

// Enabled reports whether encryption is active on this connection.
func (c *CipherState) Enabled() bool {
	return c != nil && c.send != nil && c.recv != nil
}

// Socket wraps a single TCP connection plus optional cipher state and a
// bound session id (spec §4.2, C2). P is the user's packet type.
type Socket[P Packet[P]] struct {
	conn    net.Conn
	cipher  *CipherState
	cfg     SocketConfig
	newPkt  func() P
	metrics *Metrics

	sendMu sync.Mutex

	sessionID atomic.Value // string
	closed    atomic.Bool
}

// NewSocket constructs a Socket around an established net.Conn. newPkt
// must return a fresh, zero-valued P suitable as a json.Unmarshal target
// for Recv.
func NewSocket[P Packet[P]](conn net.Conn, cfg SocketConfig, newPkt func() P) *Socket[P] {
	s := &Socket[P]{conn: conn, cfg: cfg, newPkt: newPkt}
	s.sessionID.Store("")
	return s
}

// SetCipher installs the cipher state negotiated during handshake.
// Passing nil reverts the socket to plaintext.
func (s *Socket[P]) SetCipher(c *CipherState) {
	s.cipher = c
}

// SetMetrics installs the collector frame counts report to. Passing
// nil disables metrics for this socket.
func (s *Socket[P]) SetMetrics(m *Metrics) {
	s.metrics = m
}

// BindSession records the session id this socket is associated with,
// used by the listener/registry for broadcast delivery.
func (s *Socket[P]) BindSession(id string) {
	s.sessionID.Store(id)
}

// SessionID returns the bound session id, or "" if unbound.
func (s *Socket[P]) SessionID() string {
	v, _ := s.sessionID.Load().(string)
	return v
}

// RemoteAddr returns the underlying connection's remote address.
func (s *Socket[P]) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Send serializes pkt to JSON, encrypts it if a cipher is installed,
// frames it, and writes it. Concurrent Send/SendRecv calls on the same
// socket are serialized by sendMu (spec §5 "per-connection send mutex").
func (s *Socket[P]) Send(ctx context.Context, pkt P) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sendLocked(ctx, pkt)
}

func (s *Socket[P]) sendLocked(ctx context.Context, pkt P) error {
	if s.closed.Load() {
		return ErrClosed
	}

	raw, err := json.Marshal(pkt)
	if err != nil {
		return newErr(KindParse, err)
	}

	if s.cipher.Enabled() {
		raw, err = s.cipher.send.Seal(raw)
		if err != nil {
			return newErr(KindEncrypt, err)
		}
	}

	if err := s.setDeadline(ctx); err != nil {
		return err
	}
	if err := encodeFrame(s.conn, raw); err != nil {
		return s.classifyIOErr(err)
	}
	if s.metrics != nil {
		s.metrics.FramesSent.Inc()
	}
	return nil
}

// Recv reads one frame, decrypts it if a cipher is installed, and
// JSON-decodes it into a fresh P.
func (s *Socket[P]) Recv(ctx context.Context) (P, error) {
	var zero P
	if s.closed.Load() {
		return zero, ErrClosed
	}

	if err := s.setDeadline(ctx); err != nil {
		return zero, err
	}

	raw, err := decodeFrame(s.conn, s.cfg.MaxFrameBytes)
	if err != nil {
		return zero, s.classifyIOErr(err)
	}

	if s.cipher.Enabled() {
		raw, err = s.cipher.recv.Open(raw)
		if err != nil {
			return zero, newErr(KindDecrypt, err)
		}
	}

	pkt := s.newPkt()
	if err := json.Unmarshal(raw, pkt); err != nil {
		return zero, newErr(KindParse, err)
	}
	if s.metrics != nil {
		s.metrics.FramesReceived.Inc()
	}
	return pkt, nil
}

// SendRecv sends pkt and waits for the paired reply, atomically with
// respect to other SendRecv/Send calls on the same socket (spec §4.2,
// §5 "send_recv is atomic per socket").
func (s *Socket[P]) SendRecv(ctx context.Context, pkt P) (P, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	var zero P
	if err := s.sendLocked(ctx, pkt); err != nil {
		return zero, err
	}
	return s.recvLocked(ctx)
}

// recvLocked is Recv without re-acquiring sendMu; callers must already
// hold it (used by SendRecv, where send and recv must not interleave
// with any other sender on this socket).
func (s *Socket[P]) recvLocked(ctx context.Context) (P, error) {
	return s.Recv(ctx)
}

// Shutdown half-closes the write side, drains the read side up to the
// configured deadline, then closes the connection (spec §4.2).
func (s *Socket[P]) Shutdown() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	deadline := time.Now().Add(s.cfg.ShutdownDrain)
	_ = s.conn.SetReadDeadline(deadline)
	discard := make([]byte, 4096)
	for {
		if _, err := s.conn.Read(discard); err != nil {
			break
		}
	}

	if err := s.conn.Close(); err != nil {
		log.Debug().Err(err).Msg("socket: close error during shutdown")
	}
	return nil
}

func (s *Socket[P]) setDeadline(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return s.conn.SetDeadline(deadline)
}

func (s *Socket[P]) classifyIOErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ErrTimeout
	}
	if we, ok := err.(*Error); ok {
		return we
	}
	return newErr(KindIO, err)
}
