package wiremesh

import (
	"errors"
	"testing"
)

func TestKindOfMatchesWrappedError(t *testing.T) {
	wrapped := errors.New("boom")
	err := newErr(KindIO, wrapped)

	if KindOf(err) != KindIO {
		t.Fatalf("got %v, want KindIO", KindOf(err))
	}
	if !errors.Is(err, wrapped) {
		t.Fatalf("expected errors.Is to unwrap to the cause")
	}
}

func TestKindOfUnknownForPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("expected KindUnknown for a plain error")
	}
}

func TestErrorIsComparesKind(t *testing.T) {
	a := newErr(KindTimeout, nil)
	b := newErr(KindTimeout, errors.New("different cause"))
	c := newErr(KindIO, nil)

	if !errors.Is(a, b) {
		t.Fatalf("expected two KindTimeout errors to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Fatalf("expected KindTimeout and KindIO to not match")
	}
}

func TestSentinelsCarryDistinctKinds(t *testing.T) {
	cases := map[Kind]error{
		KindFrameTooLarge:      ErrFrameTooLarge,
		KindTruncated:          ErrTruncated,
		KindEncryptionMismatch: ErrEncryptionMismatch,
		KindInvalidCredentials: ErrInvalidCredentials,
		KindSessionExpired:     ErrSessionExpired,
		KindSessionNotFound:    ErrSessionNotFound,
		KindKeepAliveTimeout:   ErrKeepAliveTimeout,
		KindReconnectFailed:    ErrReconnectFailed,
		KindNoHandler:          ErrNoHandler,
		KindRelayFailed:        ErrRelayFailed,
	}
	for wantKind, err := range cases {
		if KindOf(err) != wantKind {
			t.Fatalf("got %v, want %v for %v", KindOf(err), wantKind, err)
		}
	}
}
