package wiremesh

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ListenerConfig bundles everything a Listener needs to accept and
// service connections for a concrete packet/session pair.
type ListenerConfig[P Packet[P], S Session] struct {
	Socket      SocketConfig
	Encryption  EncryptionConfig
	KeepAlive   KeepAliveConfig
	Authenticator Authenticator
	Sessions    *SessionRegistry[S]
	Pools       *Pools
	NewPacket   func() P
	NewSession  func(id string) S
	Handlers    *HandlerRegistry[P, S]
	Metrics     *Metrics

	// OnError, if set, runs whenever a connection tears down for a
	// non-normal reason (keep-alive timeout, I/O fault, frame fault) —
	// not on a clean client disconnect or listener shutdown.
	OnError func(sessionID string, err error)
}

// isNormalTeardown reports whether err represents an expected end to a
// connection (peer hung up cleanly, or the listener itself is shutting
// down) rather than a fault OnError should be told about.
func isNormalTeardown(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	// errors.Is matches *Error by Kind alone, and every I/O fault shares
	// ErrEof's and ErrClosed's Kind, so compare the sentinels by identity.
	var e *Error
	return errors.As(err, &e) && (e == ErrEof || e == ErrClosed)
}

// Listener accepts TCP connections and runs each through
// handshake -> register -> dispatch loop -> teardown (spec §4.6).
// Grounded on relaydns/relay.go's handleConn/handleStream shape.
type Listener[P Packet[P], S Session] struct {
	ln         net.Listener
	cfg        ListenerConfig[P, S]
	dispatcher *Dispatcher[P, S]

	socketsMu sync.RWMutex
	sockets   map[string]*Socket[P] // session id -> live socket

	wg sync.WaitGroup
}

// Listen opens a TCP listener on addr and wraps it.
func Listen[P Packet[P], S Session](addr string, cfg ListenerConfig[P, S]) (*Listener[P, S], error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, newErr(KindIO, err)
	}
	return &Listener[P, S]{
		ln:         ln,
		cfg:        cfg,
		dispatcher: NewDispatcher(cfg.Handlers),
		sockets:    make(map[string]*Socket[P]),
	}, nil
}

// Broadcast delivers pkt to every live socket bound to a session in
// pool, skipping members that are bound but not currently connected
// (spec §4.4 pool broadcast; membership persisting across disconnect
// means a send to a disconnected member is simply absent from the
// result, not an error).
func (l *Listener[P, S]) Broadcast(ctx context.Context, pool string, pkt P) map[string]error {
	return l.cfg.Pools.Broadcast(pool, func(sessionID string) error {
		l.socketsMu.RLock()
		sock, ok := l.sockets[sessionID]
		l.socketsMu.RUnlock()
		if !ok {
			return nil
		}
		return sock.Send(ctx, pkt)
	})
}

// Addr returns the bound address, useful when addr was ":0".
func (l *Listener[P, S]) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. A single connection's failure never stops the loop; Serve
// only returns on listener-level errors or ctx cancellation.
func (l *Listener[P, S]) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
				return newErr(KindIO, err)
			}
		}

		if l.cfg.Metrics != nil {
			l.cfg.Metrics.ConnectionsAccepted.Inc()
			l.cfg.Metrics.ConnectionsActive.Inc()
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			if l.cfg.Metrics != nil {
				defer l.cfg.Metrics.ConnectionsActive.Dec()
			}
			if err := l.handleConn(ctx, conn); err != nil {
				log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("listener: connection ended")
			}
		}()
	}
}

// Close closes the underlying listener without waiting for in-flight
// connections to drain.
func (l *Listener[P, S]) Close() error {
	return l.ln.Close()
}

func (l *Listener[P, S]) handleConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	result, err := ServerHandshake(conn, l.cfg.Encryption, l.cfg.Socket, l.authenticate)
	if err != nil {
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.HandshakeFailures.Inc()
		}
		log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("listener: handshake failed")
		return err
	}

	sock := NewSocket[P](conn, l.cfg.Socket, l.cfg.NewPacket)
	sock.metrics = l.cfg.Metrics
	sock.SetCipher(result.Cipher)
	sock.BindSession(result.SessionID)

	sess, ok := l.cfg.Sessions.Get(result.SessionID)
	if !ok {
		sess = l.cfg.NewSession(result.SessionID)
		l.cfg.Sessions.Put(sess)
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.SessionsActive.Inc()
		}
	}

	log.Info().Str("session", result.SessionID).Str("remote", conn.RemoteAddr().String()).Msg("listener: session bound")

	l.socketsMu.Lock()
	l.sockets[result.SessionID] = sock
	l.socketsMu.Unlock()
	defer func() {
		l.socketsMu.Lock()
		delete(l.sockets, result.SessionID)
		l.socketsMu.Unlock()
	}()

	group, gctx := errgroup.WithContext(ctx)
	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())

	if l.cfg.KeepAlive.Enabled {
		group.Go(func() error {
			return l.watchKeepAlive(gctx, sock, &lastSeen)
		})
	}

	group.Go(func() error {
		return l.dispatchLoop(gctx, sock, sess, &lastSeen)
	})

	err = group.Wait()
	_ = sock.Shutdown()
	if !isNormalTeardown(err) && l.cfg.OnError != nil {
		l.cfg.OnError(result.SessionID, err)
	}
	return err
}

// authenticate decides the session id to bind for a connection. A
// presented session_id resumes if it is found and unexpired; otherwise
// a new session is minted rather than rejecting the handshake, since a
// server-evicted session is not a credential failure (spec §4.3 phase
// B, §4.7).
func (l *Listener[P, S]) authenticate(req authResultRequest) (string, bool) {
	if req.HasSess {
		if sess, ok := l.cfg.Sessions.Get(req.SessionID); ok {
			return sess.ID(), true
		}
		return uuid.NewString(), true
	}
	if req.HasUser && l.cfg.Authenticator != nil {
		if err := l.cfg.Authenticator(req.Username, req.Password); err != nil {
			return "", false
		}
	}
	return uuid.NewString(), true
}

func (l *Listener[P, S]) dispatchLoop(ctx context.Context, sock *Socket[P], sess S, lastSeen *atomic.Int64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkt, err := sock.Recv(ctx)
		if err != nil {
			return err
		}
		lastSeen.Store(time.Now().UnixNano())

		reply := l.dispatcher.Dispatch(ctx, sock, sess, pkt)
		if err := sock.Send(ctx, reply); err != nil {
			return err
		}
	}
}

func (l *Listener[P, S]) watchKeepAlive(ctx context.Context, sock *Socket[P], lastSeen *atomic.Int64) error {
	ticker := time.NewTicker(l.cfg.KeepAlive.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			since := time.Since(time.Unix(0, lastSeen.Load()))
			if since > l.cfg.KeepAlive.Timeout {
				// Cancelling gctx doesn't reach dispatchLoop's blocked
				// Recv — that block is governed by the socket's own
				// read deadline, not ctx. Force it to unblock now.
				_ = sock.Shutdown()
				return ErrKeepAliveTimeout
			}
		}
	}
}
