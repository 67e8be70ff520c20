package wiremesh

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// RelayEnvelope is the body payload a phantom-relay packet carries: a
// destination and the whole packet (header and body) to forward there, opaque to every
// hop except the one actually dialing Target (spec §4.8).
type RelayEnvelope struct {
	Target  Endpoint        `json:"target"`
	Forward json.RawMessage `json:"forward"`
}

// NewPhantomRelayHandler returns a handler that, on receipt of a relay
// packet, dials Target as a one-shot client, forwards the embedded
// packet, and stores the whole reply packet, JSON-encoded, as the
// original packet's body payload. It never propagates a downstream failure as a panic
// or a closed upstream connection — a relay failure becomes
// RelayFailed on the reply packet (spec §4.8's survive-without-closing
// guarantee). Grounded on relaydns/handlers.go's handleConnectionRequest
// forward-and-copy-back shape, minus the raw io.Copy hijack since here
// the unit of exchange is one packet, not a byte stream.
func NewPhantomRelayHandler[P Packet[P], S Session](newPacket func() P, socketCfg SocketConfig, enc EncryptionConfig) HandlerFunc[P, S] {
	return func(ctx context.Context, sock *Socket[P], sess S, pkt P) P {
		body := pkt.Body()
		if body.Payload == nil {
			return pkt.WithError(ErrRelayFailed.Error())
		}

		var env RelayEnvelope
		if err := json.Unmarshal([]byte(*body.Payload), &env); err != nil {
			log.Warn().Err(err).Msg("relay: malformed envelope")
			return pkt.WithError(ErrRelayFailed.Error())
		}

		forward := newPacket()
		if err := json.Unmarshal(env.Forward, forward); err != nil {
			log.Warn().Err(err).Msg("relay: malformed forward packet")
			return pkt.WithError(ErrRelayFailed.Error())
		}

		downstream, err := Connect[P](env.Target, ClientConfig[P]{
			Socket:     socketCfg,
			Encryption: enc,
			NewPacket:  newPacket,
		})
		if err != nil {
			log.Warn().Err(err).Str("host", env.Target.Host).Msg("relay: downstream connect failed")
			return pkt.WithError(ErrRelayFailed.Error())
		}
		defer downstream.Close()

		reply, err := downstream.Request(ctx, forward)
		if err != nil {
			log.Warn().Err(err).Str("host", env.Target.Host).Msg("relay: downstream request failed")
			return pkt.WithError(ErrRelayFailed.Error())
		}

		replyRaw, err := json.Marshal(reply)
		if err != nil {
			return pkt.WithError(ErrRelayFailed.Error())
		}
		replyStr := string(replyRaw)
		body.Payload = &replyStr

		return pkt.WithOK()
	}
}
