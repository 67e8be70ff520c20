package wiremesh

import (
	"encoding/json"
	"net"
	"time"

	"github.com/gosuda/wiremesh/wiremesh/cryptoops"
)

// helloMsg is phase A's cipher-negotiation message (spec §4.3 phase A).
// Sent plaintext on both sides before any key material can exist.
type helloMsg struct {
	Encrypt   bool   `json:"encrypt"`
	PublicKey []byte `json:"public_key,omitempty"`
	Nonce     []byte `json:"nonce,omitempty"`
}

// authMsg is phase B's credential message (spec §4.3 phase B), sent
// under the cipher negotiated in phase A if encryption is enabled.
type authMsg struct {
	Username  *string `json:"username,omitempty"`
	Password  *string `json:"password,omitempty"`
	SessionID *string `json:"session_id,omitempty"`
}

type authResultMsg struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandshakeResult carries what the connection needs after a successful
// handshake: the negotiated cipher (nil if plaintext) and the session
// id the peer authenticated as or was issued.
type HandshakeResult struct {
	Cipher    *CipherState
	SessionID string
}

func sendHandshakeMsg(conn net.Conn, deadline time.Time, cipher *CipherState, v any) error {
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return newErr(KindIO, err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return newErr(KindParse, err)
	}
	if cipher.Enabled() {
		raw, err = cipher.send.Seal(raw)
		if err != nil {
			return newErr(KindEncrypt, err)
		}
	}
	if err := encodeFrame(conn, raw); err != nil {
		return newErr(KindIO, err)
	}
	return nil
}

func recvHandshakeMsg(conn net.Conn, deadline time.Time, maxBytes uint32, cipher *CipherState, v any) error {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return newErr(KindIO, err)
	}
	raw, err := decodeFrame(conn, maxBytes)
	if err != nil {
		return err
	}
	if cipher.Enabled() {
		raw, err = cipher.recv.Open(raw)
		if err != nil {
			return newErr(KindDecrypt, err)
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return newErr(KindParse, err)
	}
	return nil
}

// ClientHandshake runs both handshake phases from the dialing side
// (spec §4.3, §4.6). auth.Type == AuthNone sends neither credential
// field, asking the server to mint a fresh session.
func ClientHandshake(conn net.Conn, enc EncryptionConfig, auth AuthConfig, cfg SocketConfig) (*HandshakeResult, error) {
	deadline := time.Now().Add(cfg.Timeout)

	hello := helloMsg{Encrypt: enc.Enabled}
	var kp cryptoops.KeyPair
	var clientNonce []byte
	if enc.Enabled {
		var err error
		kp, err = cryptoops.GenerateKeyPair()
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		clientNonce, err = cryptoops.RandomNonceSeed()
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		hello.PublicKey = kp.Public
		hello.Nonce = clientNonce
	}

	if err := sendHandshakeMsg(conn, deadline, nil, hello); err != nil {
		return nil, err
	}

	var serverHello helloMsg
	if err := recvHandshakeMsg(conn, deadline, cfg.MaxFrameBytes, nil, &serverHello); err != nil {
		return nil, err
	}
	if serverHello.Encrypt != enc.Enabled {
		return nil, ErrEncryptionMismatch
	}

	var cipher *CipherState
	if enc.Enabled {
		encKey, decKey, err := cryptoops.DeriveClientKeys(kp, serverHello.PublicKey, clientNonce, serverHello.Nonce)
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		sendAEAD, err := cryptoops.NewAEAD(encKey, serverHello.Nonce)
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		recvAEAD, err := cryptoops.NewAEAD(decKey, clientNonce)
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		cipher = NewCipherState(sendAEAD, recvAEAD)
	}

	req := authMsg{}
	if auth.Type == AuthUserPassword {
		req.Username = &auth.Username
		req.Password = &auth.Password
	}
	if err := sendHandshakeMsg(conn, deadline, cipher, req); err != nil {
		return nil, err
	}

	var result authResultMsg
	if err := recvHandshakeMsg(conn, deadline, cfg.MaxFrameBytes, cipher, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, ErrInvalidCredentials
	}

	return &HandshakeResult{Cipher: cipher, SessionID: result.SessionID}, nil
}

// ClientResumeHandshake is ClientHandshake's session-id variant, used by
// the reconnection engine (spec §4.7) to resume an existing session
// instead of authenticating fresh credentials.
func ClientResumeHandshake(conn net.Conn, enc EncryptionConfig, sessionID string, cfg SocketConfig) (*HandshakeResult, error) {
	deadline := time.Now().Add(cfg.Timeout)

	hello := helloMsg{Encrypt: enc.Enabled}
	var kp cryptoops.KeyPair
	var clientNonce []byte
	if enc.Enabled {
		var err error
		kp, err = cryptoops.GenerateKeyPair()
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		clientNonce, err = cryptoops.RandomNonceSeed()
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		hello.PublicKey = kp.Public
		hello.Nonce = clientNonce
	}
	if err := sendHandshakeMsg(conn, deadline, nil, hello); err != nil {
		return nil, err
	}

	var serverHello helloMsg
	if err := recvHandshakeMsg(conn, deadline, cfg.MaxFrameBytes, nil, &serverHello); err != nil {
		return nil, err
	}
	if serverHello.Encrypt != enc.Enabled {
		return nil, ErrEncryptionMismatch
	}

	var cipher *CipherState
	if enc.Enabled {
		encKey, decKey, err := cryptoops.DeriveClientKeys(kp, serverHello.PublicKey, clientNonce, serverHello.Nonce)
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		sendAEAD, err := cryptoops.NewAEAD(encKey, serverHello.Nonce)
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		recvAEAD, err := cryptoops.NewAEAD(decKey, clientNonce)
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		cipher = NewCipherState(sendAEAD, recvAEAD)
	}

	req := authMsg{SessionID: &sessionID}
	if err := sendHandshakeMsg(conn, deadline, cipher, req); err != nil {
		return nil, err
	}

	var result authResultMsg
	if err := recvHandshakeMsg(conn, deadline, cfg.MaxFrameBytes, cipher, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, ErrSessionNotFound
	}

	return &HandshakeResult{Cipher: cipher, SessionID: result.SessionID}, nil
}

// authResultRequest is the decoded client credential payload handed to
// the server's authentication hook.
type authResultRequest struct {
	Username  string
	Password  string
	HasUser   bool
	SessionID string
	HasSess   bool
}

// ServerHandshake runs both handshake phases from the accepting side.
// authenticate decides whether to accept the presented credentials (or
// session resumption) and returns the session id to bind; it is also
// called, with neither field set, when the client presented no
// credentials at all and wants a fresh session.
func ServerHandshake(conn net.Conn, enc EncryptionConfig, cfg SocketConfig, authenticate func(authResultRequest) (string, bool)) (*HandshakeResult, error) {
	deadline := time.Now().Add(cfg.Timeout)

	var clientHello helloMsg
	if err := recvHandshakeMsg(conn, deadline, cfg.MaxFrameBytes, nil, &clientHello); err != nil {
		return nil, err
	}

	resp := helloMsg{Encrypt: enc.Enabled}
	var kp cryptoops.KeyPair
	var serverNonce []byte
	if enc.Enabled {
		var err error
		kp, err = cryptoops.GenerateKeyPair()
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		serverNonce, err = cryptoops.RandomNonceSeed()
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		resp.PublicKey = kp.Public
		resp.Nonce = serverNonce
	}
	if err := sendHandshakeMsg(conn, deadline, nil, resp); err != nil {
		return nil, err
	}

	if clientHello.Encrypt != enc.Enabled {
		return nil, ErrEncryptionMismatch
	}

	var cipher *CipherState
	if enc.Enabled {
		encKey, decKey, err := cryptoops.DeriveServerKeys(kp, clientHello.PublicKey, clientHello.Nonce, serverNonce)
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		sendAEAD, err := cryptoops.NewAEAD(encKey, clientHello.Nonce)
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		recvAEAD, err := cryptoops.NewAEAD(decKey, serverNonce)
		if err != nil {
			return nil, newErr(KindEncrypt, err)
		}
		cipher = NewCipherState(sendAEAD, recvAEAD)
	}

	var req authMsg
	if err := recvHandshakeMsg(conn, deadline, cfg.MaxFrameBytes, cipher, &req); err != nil {
		return nil, err
	}

	areq := authResultRequest{}
	if req.Username != nil {
		areq.Username = *req.Username
		areq.HasUser = true
	}
	if req.Password != nil {
		areq.Password = *req.Password
	}
	if req.SessionID != nil {
		areq.SessionID = *req.SessionID
		areq.HasSess = true
	}

	sessionID, ok := authenticate(areq)
	result := authResultMsg{OK: ok, SessionID: sessionID}
	if !ok {
		result.Error = ErrInvalidCredentials.Error()
	}
	if err := sendHandshakeMsg(conn, deadline, cipher, result); err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return &HandshakeResult{Cipher: cipher, SessionID: sessionID}, nil
}
