package wiremesh

import (
	"context"
	"math"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ClientConfig bundles everything a Client needs to dial, authenticate,
// and maintain a connection for a concrete packet type.
type ClientConfig[P Packet[P]] struct {
	Socket     SocketConfig
	Encryption EncryptionConfig
	KeepAlive  KeepAliveConfig
	Auth       AuthConfig
	Reconnect  ReconnectionConfig
	NewPacket  func() P

	// OnBroadcast receives any packet the reader loop sees that does not
	// correspond to an in-flight Request (spec §4.7's unsolicited vs
	// in-flight-reply distinction).
	OnBroadcast func(P)
	// OnReconnect fires once a reconnection attempt succeeds, receiving
	// the session id the client resumed or was freshly issued.
	OnReconnect func(sessionID string)

	Metrics *Metrics
}

// Client owns one logical connection to a server, transparently
// reconnecting underneath Request calls when Reconnect.AutoReconnect
// is set (spec §4.7). Grounded on relaydns/client.go's RelayClient plus
// the reconnect/backoff shape from a websocket signaling client in the
// retrieval pack's other_examples.
type Client[P Packet[P]] struct {
	cfg  ClientConfig[P]
	addr Endpoint

	mu        sync.RWMutex
	sock      *Socket[P]
	sessionID string

	pendingMu sync.Mutex
	pending   chan P
	reqMu     sync.Mutex

	reconnectMu   sync.Mutex
	reconnecting  bool
	reconnectDone chan struct{}
	reconnected   atomic.Bool

	closed  atomic.Bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// IsReconnected reports whether the client's current connection is the
// result of a reconnection rather than the original Connect. It flips
// back to false the moment a send_recv round trip next completes
// successfully (spec §4.7).
func (c *Client[P]) IsReconnected() bool {
	return c.reconnected.Load()
}

// Connect dials the primary endpoint, runs the handshake, and starts
// the client's background reader and keep-alive loops.
func Connect[P Packet[P]](primary Endpoint, cfg ClientConfig[P]) (*Client[P], error) {
	c := &Client[P]{cfg: cfg, addr: primary, closeCh: make(chan struct{})}
	if err := c.dial(primary); err != nil {
		return nil, err
	}
	c.wg.Add(1)
	go c.readLoop()
	if cfg.KeepAlive.Enabled {
		c.wg.Add(1)
		go c.keepAliveLoop()
	}
	return c, nil
}

func (c *Client[P]) dial(ep Endpoint) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)), c.cfg.Socket.Timeout)
	if err != nil {
		return newErr(KindIO, err)
	}

	var result *HandshakeResult
	if c.sessionID != "" && !c.cfg.Reconnect.Reinitialize {
		result, err = ClientResumeHandshake(conn, c.cfg.Encryption, c.sessionID, c.cfg.Socket)
	} else {
		result, err = ClientHandshake(conn, c.cfg.Encryption, c.cfg.Auth, c.cfg.Socket)
	}
	if err != nil {
		conn.Close()
		return err
	}

	sock := NewSocket[P](conn, c.cfg.Socket, c.cfg.NewPacket)
	sock.SetMetrics(c.cfg.Metrics)
	sock.SetCipher(result.Cipher)
	sock.BindSession(result.SessionID)

	c.mu.Lock()
	old := c.sock
	c.sock = sock
	c.sessionID = result.SessionID
	c.mu.Unlock()

	if old != nil {
		_ = old.Shutdown()
	}
	return nil
}

// SessionID returns the session id currently bound to this client.
func (c *Client[P]) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Request sends pkt and waits for the server's reply. If the send itself
// fails and auto-reconnect is on, it waits for the reconnection and
// sends pkt once more on the new socket. A reply lost after a successful
// send is not re-requested: the caller then gets a Timeout error when
// ctx expires, or ErrClosed if the client is closed.
func (c *Client[P]) Request(ctx context.Context, pkt P) (P, error) {
	var zero P
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	ch := make(chan P, 1)
	c.pendingMu.Lock()
	c.pending = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		c.pending = nil
		c.pendingMu.Unlock()
	}()

	c.mu.RLock()
	sock := c.sock
	c.mu.RUnlock()
	if sock == nil {
		return zero, ErrClosed
	}
	if err := sock.Send(ctx, pkt); err != nil {
		sock, err = c.recoverFromFault(ctx, sock, err)
		if err != nil {
			return zero, err
		}
		if err := sock.Send(ctx, pkt); err != nil {
			return zero, err
		}
	}

	select {
	case reply := <-ch:
		c.reconnected.Store(false)
		return reply, nil
	case <-ctx.Done():
		return zero, newErr(KindTimeout, ctx.Err())
	case <-c.closeCh:
		return zero, ErrClosed
	}
}

// recoverFromFault is called when sock hit a fatal I/O error during
// send. If auto-reconnect is configured it joins (or starts) a
// reconnection attempt and blocks until it resolves or ctx expires,
// so a caller in send_recv sees either a working socket or a terminal
// error, never a request silently dropped (spec §4.7).
func (c *Client[P]) recoverFromFault(ctx context.Context, sock *Socket[P], cause error) (*Socket[P], error) {
	if !c.cfg.Reconnect.AutoReconnect {
		return nil, cause
	}
	done := c.beginReconnect()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, newErr(KindTimeout, ctx.Err())
	case <-c.closeCh:
		return nil, ErrClosed
	}

	c.mu.RLock()
	newSock := c.sock
	c.mu.RUnlock()
	if newSock == nil || newSock == sock {
		return nil, ErrReconnectFailed
	}
	return newSock, nil
}

// beginReconnect starts a reconnection attempt if one isn't already
// running, and returns a channel that closes when it settles. Callers
// racing on the same dead socket join the same attempt instead of each
// running their own backoff loop.
func (c *Client[P]) beginReconnect() chan struct{} {
	c.reconnectMu.Lock()
	if c.reconnecting {
		done := c.reconnectDone
		c.reconnectMu.Unlock()
		return done
	}
	c.reconnecting = true
	done := make(chan struct{})
	c.reconnectDone = done
	c.reconnectMu.Unlock()

	go func() {
		ok := c.reconnect()
		c.reconnectMu.Lock()
		c.reconnecting = false
		c.reconnectMu.Unlock()
		if ok {
			c.reconnected.Store(true)
		}
		close(done)
	}()
	return done
}

// Close stops background loops and closes the underlying socket.
func (c *Client[P]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closeCh)
	c.mu.RLock()
	sock := c.sock
	c.mu.RUnlock()
	if sock != nil {
		_ = sock.Shutdown()
	}
	c.wg.Wait()
	return nil
}

func (c *Client[P]) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		sock := c.sock
		c.mu.RUnlock()
		if sock == nil {
			return
		}

		pkt, err := sock.Recv(context.Background())
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
			}
			if !c.cfg.Reconnect.AutoReconnect {
				return
			}
			<-c.beginReconnect()
			c.mu.RLock()
			changed := c.sock != nil && c.sock != sock
			c.mu.RUnlock()
			if !changed {
				return
			}
			continue
		}

		c.pendingMu.Lock()
		ch := c.pending
		c.pendingMu.Unlock()
		if ch != nil {
			select {
			case ch <- pkt:
				continue
			default:
			}
		}
		if c.cfg.OnBroadcast != nil {
			c.cfg.OnBroadcast(pkt)
		}
	}
}

func (c *Client[P]) keepAliveLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.KeepAlive.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.KeepAlive.Timeout)
			pkt := c.cfg.NewPacket().WithKeepAlive()
			_, err := c.Request(ctx, pkt)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("client: keep-alive failed")
				if c.cfg.Reconnect.AutoReconnect {
					c.beginReconnect()
				}
			}
		}
	}
}

// reconnect runs the backoff/failover loop described in spec §4.7. It
// returns false once it gives up (MaxAttempts exhausted or the client
// was closed), leaving the caller free to exit its loop.
func (c *Client[P]) reconnect() bool {
	endpoints := append([]Endpoint{c.addr}, c.cfg.Reconnect.Endpoints...)
	attempt := 0

	for {
		select {
		case <-c.closeCh:
			return false
		default:
		}

		if c.cfg.Reconnect.MaxAttempts > 0 && attempt >= c.cfg.Reconnect.MaxAttempts {
			log.Error().Int("attempts", attempt).Msg("client: reconnect attempts exhausted")
			return false
		}

		ep := endpoints[attempt%len(endpoints)]
		delay := calculateBackoff(attempt, c.cfg.Reconnect)
		select {
		case <-time.After(delay):
		case <-c.closeCh:
			return false
		}

		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ReconnectAttempts.Inc()
		}
		if err := c.dial(ep); err != nil {
			log.Warn().Err(err).Str("host", ep.Host).Int("attempt", attempt).Msg("client: reconnect attempt failed")
			attempt++
			continue
		}

		log.Info().Str("host", ep.Host).Str("session", c.SessionID()).Msg("client: reconnected")
		if c.cfg.OnReconnect != nil {
			c.cfg.OnReconnect(c.SessionID())
		}
		return true
	}
}

// calculateBackoff applies capped exponential backoff with proportional
// jitter, the same shape used by a websocket signaling reconnect loop
// in the retrieval pack.
func calculateBackoff(attempt int, cfg ReconnectionConfig) time.Duration {
	base := float64(cfg.InitialRetryDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if max := float64(cfg.MaxRetryDelay); base > max {
		base = max
	}
	if cfg.Jitter > 0 {
		jitter := base * cfg.Jitter * (rand.Float64()*2 - 1)
		base += jitter
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}
