// Package echo is the example packet and session type used by the
// wiremesh-server and wiremesh-client demo binaries. It is not part of
// the framework itself; it shows what a concrete Packet/Session pair
// looks like.
package echo

import (
	"time"

	"github.com/gosuda/wiremesh/wiremesh"
)

// Packet is the smallest usable implementation of wiremesh.Packet: a
// header string and a body, nothing else.
type Packet struct {
	H string       `json:"header"`
	B wiremesh.Body `json:"body"`
}

func New() *Packet { return &Packet{} }

func (p *Packet) Header() string         { return p.H }
func (p *Packet) Body() *wiremesh.Body   { return &p.B }

func (p *Packet) WithOK() *Packet {
	p.H = wiremesh.HeaderOK
	return p
}

func (p *Packet) WithError(msg string) *Packet {
	p.H = wiremesh.HeaderError
	p.B.Error = &msg
	return p
}

func (p *Packet) WithKeepAlive() *Packet {
	p.H = wiremesh.HeaderKeepAlive
	return p
}

// WithPayload sets the body's payload and the given header; the demo
// client passes "ECHO" to send a message the server's echo handler will
// reflect back.
func (p *Packet) WithPayload(header, payload string) *Packet {
	p.H = header
	p.B.Payload = &payload
	return p
}

// Session is a minimal wiremesh.Session with a fixed lifespan.
type Session struct {
	id        string
	createdAt time.Time
	lifespan  time.Duration
}

func NewSession(id string, lifespan time.Duration) *Session {
	return &Session{id: id, createdAt: time.Now(), lifespan: lifespan}
}

func (s *Session) ID() string               { return s.id }
func (s *Session) CreatedAt() time.Time     { return s.createdAt }
func (s *Session) Lifespan() time.Duration  { return s.lifespan }
