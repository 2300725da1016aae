package crypto

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/a-morozov/filevault/internal/model"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 32
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal — looks non-random", n)
	}
}

func TestAEADGateway_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewAEADGateway()

	plaintext := []byte("quarterly report, do not distribute")
	env, err := g.Encrypt(ctx, plaintext, "Str0ng!Pass")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(env.Salt) != saltLen || len(env.KeyCheck) != keyCheckLen {
		t.Fatalf("unexpected envelope framing: %d/%d", len(env.Salt), len(env.KeyCheck))
	}
	if bytes.Contains(env.Ciphertext, plaintext) {
		t.Fatalf("ciphertext contains plaintext")
	}

	out, err := g.Decrypt(ctx, env, "Str0ng!Pass")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestAEADGateway_WrongPassword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewAEADGateway()

	env, err := g.Encrypt(ctx, []byte("data"), "Str0ng!Pass")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	_, err = g.Decrypt(ctx, env, "Wr0ng!Pass!")
	if !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("want ErrWrongPassword, got %v", err)
	}
}

func TestAEADGateway_CorruptCiphertext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewAEADGateway()

	env, err := g.Encrypt(ctx, []byte("data"), "Str0ng!Pass")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	env.Ciphertext[0] ^= 0xff
	_, err = g.Decrypt(ctx, env, "Str0ng!Pass")
	if !errors.Is(err, ErrCorruptPayload) {
		t.Fatalf("want ErrCorruptPayload, got %v", err)
	}
}

func TestAEADGateway_MalformedEnvelope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := NewAEADGateway()

	cases := []*model.Envelope{
		nil,
		{},
		{Salt: []byte("short"), Nonce: make([]byte, 24), KeyCheck: make([]byte, keyCheckLen)},
		{Salt: make([]byte, saltLen), Nonce: []byte("short"), KeyCheck: make([]byte, keyCheckLen)},
	}
	for i, env := range cases {
		if _, err := g.Decrypt(ctx, env, "Str0ng!Pass"); !errors.Is(err, ErrCorruptPayload) {
			t.Fatalf("case %d: want ErrCorruptPayload, got %v", i, err)
		}
	}
}
