// Copyright 2026 The Bowline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package oauth2

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// Token prefixes. The auth dispatcher routes credentials by prefix, so these
// are part of the wire contract with external MCP clients.
const (
	ClientIDPrefix     = "bow_client_"
	ClientSecretPrefix = "bow_secret_"
	AccessTokenPrefix  = "bow_oauth_"
	RefreshTokenPrefix = "bow_rt_"
)

const tokenEntropyBytes = 32

// GenerateToken returns a prefixed opaque token and its storage hash.
// The plaintext is returned to the caller exactly once and never persisted.
func GenerateToken(prefix string) (plaintext, hash string) {
	plaintext = prefix + randomURLSafe(tokenEntropyBytes)
	return plaintext, HashToken(plaintext)
}

// GenerateCode returns a fresh authorization code. Codes carry no prefix and
// are stored as-is; their five-minute lifetime makes hashing unnecessary.
func GenerateCode() string {
	return randomURLSafe(tokenEntropyBytes)
}

// HashToken returns the lowercase hex SHA-256 digest used for storage and
// lookup of secrets and tokens.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// VerifyTokenHash reports whether plaintext hashes to storedHash, comparing
// in constant time.
func VerifyTokenHash(plaintext, storedHash string) bool {
	computed := HashToken(plaintext)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// ComputeS256Challenge derives the PKCE code_challenge for a verifier
// (RFC 7636 Section 4.2): base64url(SHA-256(verifier)) without padding.
func ComputeS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCES256 checks a code_verifier against the stored S256 challenge in
// constant time. Empty inputs never verify.
func VerifyPKCES256(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	computed := ComputeS256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func randomURLSafe(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the platform CSPRNG is gone; issuing
		// any credential from a weaker source is worse than crashing.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
