package manifest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testKeys(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pub := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return priv, pub
}

func TestSaveSignedVerifies(t *testing.T) {
	priv, pub := testKeys(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "manifest.json")
	sigOut := filepath.Join(dir, "manifest.jws")
	m := Manifest{ShaAlgo: "sha256", Input: "capture.txt", Items: []Item{{Path: "a.pgm", Size: 1, Sha256: "00", Type: "image"}}}
	if err := SaveSigned(m, out, sigOut, priv); err != nil {
		t.Fatalf("SaveSigned: %v", err)
	}
	payload, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	sb, err := os.ReadFile(sigOut)
	if err != nil {
		t.Fatalf("read signature: %v", err)
	}
	var sig JWS
	if err := json.Unmarshal(sb, &sig); err != nil {
		t.Fatalf("parse signature: %v", err)
	}
	if sig.Payload != "" {
		t.Fatalf("detached signature carries payload")
	}
	if err := VerifyDetached(payload, sig, pub); err != nil {
		t.Fatalf("VerifyDetached: %v", err)
	}
	payload[len(payload)-2] ^= 0x01
	if err := VerifyDetached(payload, sig, pub); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature for tampered manifest, got %v", err)
	}
}

func TestSignDetachedBadKey(t *testing.T) {
	if _, err := SignDetached([]byte("{}"), []byte("not pem")); err == nil {
		t.Fatalf("expected error for missing PEM block")
	}
}
