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

/*
Package storage provides encryption utilities for data at rest.

Encryption Overview:
====================

The redo log supports AES-256 encryption of individual 512-byte blocks.
Each block reserves a fixed-size key slot in its payload (see
redo.KeySlot) to carry per-block random and key-version bytes, so
encrypting a block never changes its size: CTR mode is used rather than
an AEAD, since an authentication tag would not fit inside the fixed
block trailer. The block's own CRC-32C trailer already detects
corruption; encryption here buys confidentiality, not integrity. The
slot is intentionally narrower than a full CTR IV - buildIV widens it
back out using the block's own block number, the same trade the
on-disk format makes for its key-version field.

Key Management:
===============

Keys can be provided in two ways:
  1. Direct 32-byte key: for production use with external key management
  2. Passphrase: derived using PBKDF2 with SHA-256 (for development/testing)

Performance Considerations:
===========================

  - AES-CTR is hardware-accelerated on modern CPUs (AES-NI)
  - Each block is encrypted independently, keyed off its own nonce slot
  - No ciphertext expansion: ciphertext length equals plaintext length
*/
package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptionConfig holds the configuration for redo log block encryption.
type EncryptionConfig struct {
	// Enabled indicates whether encryption is enabled.
	Enabled bool

	// Key is the 32-byte AES-256 encryption key.
	// If empty and Passphrase is set, the key is derived from the passphrase.
	Key []byte

	// Passphrase is used to derive the encryption key if Key is not set.
	// The key is derived using PBKDF2 with SHA-256.
	Passphrase string

	// Salt is used for key derivation from passphrase.
	// If empty, a default salt is used (not recommended for production).
	Salt []byte
}

// DefaultSalt is used when no salt is provided for key derivation.
// In production, always use a unique salt per database.
var DefaultSalt = []byte("redolog-block-cipher-default-salt-v1")

// KeyDerivationIterations is the number of PBKDF2 iterations.
// Higher values are more secure but slower.
const KeyDerivationIterations = 100000

// NonceSize is the number of key-slot bytes a BlockCipher consumes:
// randNonceSize bytes of fresh per-block randomness plus keyVersionSize
// bytes of key-version material, mirroring LOG_BLOCK_KEY's 4-byte field
// in the on-disk block header rather than a full AES-block-sized nonce.
// A full CTR IV is reconstructed at encrypt/decrypt time by buildIV,
// combining these bytes with the block's own block-number field.
const NonceSize = randNonceSize + keyVersionSize

const (
	// randNonceSize is the count of fresh random bytes stored per block.
	randNonceSize = 6
	// keyVersionSize is the count of key-version bytes stored per block,
	// sized to match LOG_BLOCK_KEY rather than a full key identifier.
	keyVersionSize = 4
)

// buildIV reconstructs a full AES-block-sized CTR IV from a block's
// key slot and its own block number, so only randNonceSize+keyVersionSize
// bytes need to be persisted per block while CTR mode still gets a
// full-width, globally unique IV: the stored bytes contribute entropy
// and key-version tracking, and the block number (already persisted in
// the block header, see BlockNoOf) contributes uniqueness across blocks
// that share the same random/version bytes only by coincidence.
func buildIV(keySlot []byte, blockNo uint32) []byte {
	iv := make([]byte, aes.BlockSize)
	copy(iv, keySlot[:randNonceSize+keyVersionSize])
	binary.BigEndian.PutUint32(iv[randNonceSize+keyVersionSize:randNonceSize+keyVersionSize+4], blockNo)
	return iv
}

func deriveKey(config EncryptionConfig) ([]byte, error) {
	key := config.Key
	if len(key) == 0 && config.Passphrase != "" {
		salt := config.Salt
		if len(salt) == 0 {
			salt = DefaultSalt
		}
		key = pbkdf2.Key([]byte(config.Passphrase), salt, KeyDerivationIterations, 32, sha256.New)
	}

	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes (256 bits)")
	}
	return key, nil
}

// BlockCipher encrypts and decrypts fixed-size redo log blocks in
// place, using AES-256 in CTR mode so ciphertext length never differs
// from plaintext length. Unlike Encryptor it carries no AEAD tag; the
// block's own trailer is the only integrity check.
type BlockCipher struct {
	block cipher.Block
}

// NewBlockCipher builds a BlockCipher from config. Returns nil, nil if
// encryption is disabled, so callers can treat a nil *BlockCipher as
// "pass blocks through unchanged".
func NewBlockCipher(config EncryptionConfig) (*BlockCipher, error) {
	if !config.Enabled {
		return nil, nil
	}

	key, err := deriveKey(config)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return &BlockCipher{block: block}, nil
}

// EncryptBlock fills keySlot[:NonceSize] with fresh random bytes, then
// encrypts payload in place under the IV built from those bytes and
// blockNo (see buildIV). payload and keySlot must not overlap. blockNo
// is the block's own number (BlockNoOf) so that two blocks which, by
// coincidence, draw the same random slot bytes still never reuse an IV.
func (c *BlockCipher) EncryptBlock(payload, keySlot []byte, blockNo uint32) error {
	if len(keySlot) < NonceSize {
		return errors.New("key slot too small for nonce")
	}
	if _, err := io.ReadFull(rand.Reader, keySlot[:NonceSize]); err != nil {
		return err
	}
	iv := buildIV(keySlot, blockNo)
	cipher.NewCTR(c.block, iv).XORKeyStream(payload, payload)
	return nil
}

// DecryptBlock decrypts payload in place, rebuilding the same IV a prior
// EncryptBlock call used from keySlot and the block's own blockNo.
func (c *BlockCipher) DecryptBlock(payload, keySlot []byte, blockNo uint32) error {
	if len(keySlot) < NonceSize {
		return errors.New("key slot too small for nonce")
	}
	iv := buildIV(keySlot, blockNo)
	cipher.NewCTR(c.block, iv).XORKeyStream(payload, payload)
	return nil
}

// Encryptor provides AEAD encryption and decryption for variable-length
// records that are not bound to a fixed block size, such as tablespace
// enumeration records written alongside the main log.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates a new Encryptor with the given configuration.
// Returns nil if encryption is disabled.
//
// Parameters:
//   - config: Encryption configuration
//
// Returns the Encryptor, or an error if the key is invalid.
func NewEncryptor(config EncryptionConfig) (*Encryptor, error) {
	if !config.Enabled {
		return nil, nil
	}

	key, err := deriveKey(config)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Encryptor{gcm: gcm}, nil
}

// Encrypt encrypts the plaintext using AES-256-GCM.
// The nonce is prepended to the ciphertext.
//
// Parameters:
//   - plaintext: The data to encrypt
//
// Returns the ciphertext (nonce + encrypted data + tag), or an error.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	// Generate a random nonce
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	// Encrypt and prepend nonce
	ciphertext := e.gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// Decrypt decrypts the ciphertext using AES-256-GCM.
// Expects the nonce to be prepended to the ciphertext.
//
// Parameters:
//   - ciphertext: The encrypted data (nonce + encrypted data + tag)
//
// Returns the plaintext, or an error if decryption fails.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < e.gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:e.gcm.NonceSize()]
	ciphertext = ciphertext[e.gcm.NonceSize():]

	return e.gcm.Open(nil, nonce, ciphertext, nil)
}
