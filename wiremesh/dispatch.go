package wiremesh

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Dispatcher resolves each packet a connection's receive loop reads
// against the handler registry and returns the reply the handler (or
// the framework's own KEEPALIVE/default logic) produces; the listener's
// dispatchLoop does the socket reads and writes. Grounded on
// relaydns/relay.go's handleStream read-packet, switch-on-type loop.
type Dispatcher[P Packet[P], S Session] struct {
	registry *HandlerRegistry[P, S]
}

// NewDispatcher wraps a handler registry, freezing it against further
// Register calls.
func NewDispatcher[P Packet[P], S Session](registry *HandlerRegistry[P, S]) *Dispatcher[P, S] {
	registry.freeze()
	return &Dispatcher[P, S]{registry: registry}
}

// Dispatch resolves one inbound packet to a reply, never letting a
// handler panic escape (spec §4.5 "a handler panic becomes HandlerPanicked,
// it does not crash the connection").
func (d *Dispatcher[P, S]) Dispatch(ctx context.Context, sock *Socket[P], sess S, pkt P) (reply P) {
	header := pkt.Header()

	if header == HeaderKeepAlive {
		return pkt.WithKeepAlive()
	}

	fn, ok := d.registry.lookup(header)
	if !ok {
		if d.registry.fallback == DefaultOK {
			return pkt.WithOK()
		}
		return pkt.WithError(ErrNoHandler.Error())
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("header", header).
				Interface("panic", r).
				Msg("dispatch: handler panicked")
			reply = pkt.WithError(newErr(KindHandlerPanicked, nil).Error())
		}
	}()

	return fn(ctx, sock, sess, pkt)
}
