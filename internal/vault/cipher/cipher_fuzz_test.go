package cipher

import (
	"bytes"
	"errors"
	"testing"
)

// FuzzDecryptForgedFields feeds attacker-controlled nonces and ciphertexts
// to Decrypt. Nothing may open without the key, and every failure must be
// an integrity error.
func FuzzDecryptForgedFields(f *testing.F) {
	key, err := GenerateKey()
	if err != nil {
		f.Fatal(err)
	}
	genuine, err := Encrypt(key, []byte("Ada Lovelace"), []byte("aad"))
	if err != nil {
		f.Fatal(err)
	}

	f.Add(genuine.Nonce, genuine.Ciphertext, []byte("aad"))
	f.Add(make([]byte, NonceSize), make([]byte, TagSize), []byte{})
	f.Add([]byte{}, []byte{}, []byte("aad"))

	f.Fuzz(func(t *testing.T, nonce, ciphertext, aad []byte) {
		field := EncryptedField{Ciphertext: ciphertext, Nonce: nonce, Algorithm: AlgorithmAES256GCM}
		plaintext, err := Decrypt(key, field, aad)
		if err == nil {
			// Only the untouched genuine field may open.
			if !bytes.Equal(nonce, genuine.Nonce) || !bytes.Equal(ciphertext, genuine.Ciphertext) || string(aad) != "aad" {
				t.Fatalf("forged field decrypted to %q", plaintext)
			}
			return
		}
		if plaintext != nil {
			t.Fatal("plaintext returned alongside an error")
		}
		if !errors.Is(err, ErrIntegrity) {
			t.Fatalf("expected integrity error, got %v", err)
		}
	})
}
