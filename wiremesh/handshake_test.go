package wiremesh

import (
	"net"
	"testing"
	"time"
)

func testSocketConfig() SocketConfig {
	return SocketConfig{Timeout: 2 * time.Second, ShutdownDrain: time.Second, MaxFrameBytes: 1 << 20}
}

func TestHandshakePlaintextFreshSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	enc := EncryptionConfig{Enabled: false}
	cfg := testSocketConfig()

	type result struct {
		res *HandshakeResult
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		res, err := ClientHandshake(clientConn, enc, AuthConfig{Type: AuthNone}, cfg)
		clientCh <- result{res, err}
	}()
	go func() {
		res, err := ServerHandshake(serverConn, enc, cfg, func(req authResultRequest) (string, bool) {
			return "minted-session", true
		})
		serverCh <- result{res, err}
	}()

	cr := <-clientCh
	sr := <-serverCh

	if cr.err != nil {
		t.Fatalf("client handshake: %v", cr.err)
	}
	if sr.err != nil {
		t.Fatalf("server handshake: %v", sr.err)
	}
	if cr.res.SessionID != "minted-session" {
		t.Fatalf("got session %q, want %q", cr.res.SessionID, "minted-session")
	}
	if cr.res.Cipher.Enabled() || sr.res.Cipher.Enabled() {
		t.Fatalf("expected plaintext handshake, got cipher enabled")
	}
}

func TestHandshakeEncryptedKeysAgree(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	enc := EncryptionConfig{Enabled: true}
	cfg := testSocketConfig()

	type result struct {
		res *HandshakeResult
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		res, err := ClientHandshake(clientConn, enc, AuthConfig{Type: AuthNone}, cfg)
		clientCh <- result{res, err}
	}()
	go func() {
		res, err := ServerHandshake(serverConn, enc, cfg, func(req authResultRequest) (string, bool) {
			return "s1", true
		})
		serverCh <- result{res, err}
	}()

	cr := <-clientCh
	sr := <-serverCh
	if cr.err != nil {
		t.Fatalf("client handshake: %v", cr.err)
	}
	if sr.err != nil {
		t.Fatalf("server handshake: %v", sr.err)
	}
	if !cr.res.Cipher.Enabled() || !sr.res.Cipher.Enabled() {
		t.Fatalf("expected encrypted handshake on both sides")
	}

	// What the client encrypts, the server must be able to decrypt —
	// checked here at the cipher level for the client-to-server
	// direction; both directions run through real Sockets in
	// e2e_scenarios_test.go's encrypted login test.
	ct, err := cr.res.Cipher.send.Seal([]byte("ping"))
	if err != nil {
		t.Fatalf("client Seal: %v", err)
	}
	pt, err := sr.res.Cipher.recv.Open(ct)
	if err != nil {
		t.Fatalf("server Open: %v", err)
	}
	if string(pt) != "ping" {
		t.Fatalf("got %q, want %q", pt, "ping")
	}
}

func TestHandshakeEncryptionMismatch(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cfg := testSocketConfig()

	errCh := make(chan error, 1)
	go func() {
		_, err := ClientHandshake(clientConn, EncryptionConfig{Enabled: true}, AuthConfig{Type: AuthNone}, cfg)
		errCh <- err
	}()
	_, serverErr := ServerHandshake(serverConn, EncryptionConfig{Enabled: false}, cfg, func(req authResultRequest) (string, bool) {
		return "s1", true
	})

	clientErr := <-errCh
	if KindOf(clientErr) != KindEncryptionMismatch && KindOf(serverErr) != KindEncryptionMismatch {
		t.Fatalf("expected EncryptionMismatch on at least one side, got client=%v server=%v", clientErr, serverErr)
	}
}

func TestHandshakeAuthRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	enc := EncryptionConfig{Enabled: false}
	cfg := testSocketConfig()

	errCh := make(chan error, 1)
	go func() {
		_, err := ClientHandshake(clientConn, enc, AuthConfig{Type: AuthUserPassword, Username: "bob", Password: "wrong"}, cfg)
		errCh <- err
	}()
	_, serverErr := ServerHandshake(serverConn, enc, cfg, func(req authResultRequest) (string, bool) {
		return "", false
	})

	clientErr := <-errCh
	if clientErr != ErrInvalidCredentials {
		t.Fatalf("got %v, want ErrInvalidCredentials", clientErr)
	}
	if serverErr != ErrInvalidCredentials {
		t.Fatalf("got %v, want ErrInvalidCredentials", serverErr)
	}
}
