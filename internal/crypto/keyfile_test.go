package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	blob, err := EncryptToken("bridge-token-2719", "hunter2 hunter2")
	if err != nil {
		t.Fatalf("EncryptToken: %v", err)
	}

	var stored struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(blob, &stored); err != nil {
		t.Fatalf("keyfile is not JSON: %v", err)
	}
	if stored.Version != 1 {
		t.Errorf("version = %d, want 1", stored.Version)
	}
	if strings.Contains(string(blob), "bridge-token-2719") {
		t.Error("keyfile leaks the plaintext token")
	}

	token, err := DecryptToken(blob, "hunter2 hunter2")
	if err != nil {
		t.Fatalf("DecryptToken: %v", err)
	}
	if token != "bridge-token-2719" {
		t.Errorf("token = %q, want %q", token, "bridge-token-2719")
	}
}

func TestDecryptTokenWrongPassphrase(t *testing.T) {
	blob, err := EncryptToken("bridge-token-2719", "correct")
	if err != nil {
		t.Fatalf("EncryptToken: %v", err)
	}

	if _, err := DecryptToken(blob, "incorrect"); err == nil {
		t.Fatal("DecryptToken succeeded with the wrong passphrase")
	}
}

func TestDecryptTokenTampered(t *testing.T) {
	blob, err := EncryptToken("bridge-token-2719", "correct")
	if err != nil {
		t.Fatalf("EncryptToken: %v", err)
	}

	var stored keyfileJSON
	if err := json.Unmarshal(blob, &stored); err != nil {
		t.Fatalf("unmarshal keyfile: %v", err)
	}
	// Flip one base64 character of the ciphertext.
	cs := []byte(stored.Ciphertext)
	if cs[0] == 'A' {
		cs[0] = 'B'
	} else {
		cs[0] = 'A'
	}
	stored.Ciphertext = string(cs)
	tampered, err := json.Marshal(stored)
	if err != nil {
		t.Fatalf("marshal tampered keyfile: %v", err)
	}

	if _, err := DecryptToken(tampered, "correct"); err == nil {
		t.Fatal("DecryptToken accepted a tampered ciphertext")
	}
}

func TestEncryptTokenRejectsEmptyInputs(t *testing.T) {
	if _, err := EncryptToken("", "passphrase"); err == nil {
		t.Error("EncryptToken accepted an empty token")
	}
	if _, err := EncryptToken("token", ""); err == nil {
		t.Error("EncryptToken accepted an empty passphrase")
	}
}

func TestLoadTokenResolutionOrder(t *testing.T) {
	blob, err := EncryptToken("from-file", "pw")
	if err != nil {
		t.Fatalf("EncryptToken: %v", err)
	}
	path := filepath.Join(t.TempDir(), "bridge.key")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write keyfile: %v", err)
	}

	// Raw token wins over the keyfile.
	token, err := LoadToken(TokenConfig{RawToken: "from-env", KeyfilePath: path, Passphrase: "pw"})
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if token != "from-env" {
		t.Errorf("token = %q, want %q", token, "from-env")
	}

	// Keyfile used when no raw token is set.
	token, err = LoadToken(TokenConfig{KeyfilePath: path, Passphrase: "pw"})
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if token != "from-file" {
		t.Errorf("token = %q, want %q", token, "from-file")
	}

	// Nothing configured is an error.
	if _, err := LoadToken(TokenConfig{}); err == nil {
		t.Error("LoadToken succeeded with no source configured")
	}
}
