package wiremesh

import (
	"context"
	"net"
	"testing"

	"github.com/gosuda/wiremesh/wiremesh/cryptoops"
)

func newTestAEAD(key, nonce []byte) (*cryptoops.AEAD, error) {
	return cryptoops.NewAEAD(key, nonce)
}

func TestSocketSendRecvPlaintext(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cfg := testSocketConfig()
	client := NewSocket[*testPacket](clientConn, cfg, func() *testPacket { return &testPacket{} })
	server := NewSocket[*testPacket](serverConn, cfg, func() *testPacket { return &testPacket{} })

	sent := (&testPacket{}).WithOK()
	payload := "hello"
	sent.B.Payload = &payload

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Send(context.Background(), sent)
	}()

	got, err := server.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got.Header() != HeaderOK {
		t.Fatalf("got header %q, want %q", got.Header(), HeaderOK)
	}
	if got.Body().Payload == nil || *got.Body().Payload != payload {
		t.Fatalf("got payload %v, want %q", got.Body().Payload, payload)
	}
}

func TestSocketSendRecvEncrypted(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cfg := testSocketConfig()
	client := NewSocket[*testPacket](clientConn, cfg, func() *testPacket { return &testPacket{} })
	server := NewSocket[*testPacket](serverConn, cfg, func() *testPacket { return &testPacket{} })

	// Keys are shared between client/server for this test, so any
	// symmetric key works so long as both sides agree; a full key
	// exchange is covered in handshake_test.go.
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	nonce := make([]byte, 12)

	clientToServer, err := newTestAEAD(key, nonce)
	if err != nil {
		t.Fatalf("newTestAEAD: %v", err)
	}
	serverFromClient, err := newTestAEAD(key, nonce)
	if err != nil {
		t.Fatalf("newTestAEAD: %v", err)
	}
	unusedKey := make([]byte, 32)
	unusedA, _ := newTestAEAD(unusedKey, nonce)
	unusedB, _ := newTestAEAD(unusedKey, nonce)

	// Enabled() requires both directions present even though this test
	// only exercises client-send/server-recv.
	client.SetCipher(NewCipherState(clientToServer, unusedA))
	server.SetCipher(NewCipherState(unusedB, serverFromClient))

	sent := (&testPacket{}).WithKeepAlive()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Send(context.Background(), sent)
	}()

	got, err := server.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Header() != HeaderKeepAlive {
		t.Fatalf("got header %q, want %q", got.Header(), HeaderKeepAlive)
	}
}
