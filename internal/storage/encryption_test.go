/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import "testing"

func TestBlockCipherRoundTrip(t *testing.T) {
	c, err := NewBlockCipher(EncryptionConfig{Enabled: true, Passphrase: "hunter2"})
	if err != nil {
		t.Fatalf("NewBlockCipher: %v", err)
	}

	plaintext := []byte("redo record payload bytes go here, exactly as framed")
	payload := append([]byte(nil), plaintext...)
	keySlot := make([]byte, NonceSize)
	const blockNo = 42

	if err := c.EncryptBlock(payload, keySlot, blockNo); err != nil {
		t.Fatalf("EncryptBlock: %v", err)
	}
	if string(payload) == string(plaintext) {
		t.Fatal("EncryptBlock left the payload unchanged")
	}

	if err := c.DecryptBlock(payload, keySlot, blockNo); err != nil {
		t.Fatalf("DecryptBlock: %v", err)
	}
	if string(payload) != string(plaintext) {
		t.Errorf("DecryptBlock = %q, want %q", payload, plaintext)
	}
}

func TestBlockCipherDisabledReturnsNil(t *testing.T) {
	c, err := NewBlockCipher(EncryptionConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewBlockCipher: %v", err)
	}
	if c != nil {
		t.Fatal("expected a nil BlockCipher when encryption is disabled")
	}
}

func TestBlockCipherRejectsShortKeySlot(t *testing.T) {
	c, err := NewBlockCipher(EncryptionConfig{Enabled: true, Passphrase: "hunter2"})
	if err != nil {
		t.Fatalf("NewBlockCipher: %v", err)
	}
	if err := c.EncryptBlock(make([]byte, 16), make([]byte, 4), 0); err == nil {
		t.Fatal("expected error encrypting with an undersized key slot")
	}
}

func TestNewEncryptorDisabledReturnsNil(t *testing.T) {
	e, err := NewEncryptor(EncryptionConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	if e != nil {
		t.Fatal("expected a nil Encryptor when encryption is disabled")
	}
}

func TestEncryptorRoundTrip(t *testing.T) {
	e, err := NewEncryptor(EncryptionConfig{Enabled: true, Passphrase: "correct-horse-battery-staple"})
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	ciphertext, err := e.Encrypt([]byte("tablespace enumeration record"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "tablespace enumeration record" {
		t.Errorf("Decrypt = %q, want original plaintext", plaintext)
	}
}
