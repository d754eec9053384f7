package oauth2

import (
	"strings"
	"testing"
)

// TestPurpose: Validates PKCE S256 verification against the RFC 7636 Appendix B reference vector.
// Scope: Unit Test
// Security: Proof Key for Code Exchange (RFC 7636 Section 4.6)
// Expected: The reference verifier matches its challenge; wrong, swapped, and empty inputs never verify.
func TestOAuth2_VerifyPKCES256(t *testing.T) {
	if ComputeS256Challenge(testVerifier) != testChallenge {
		t.Errorf("challenge derivation mismatch: got %q", ComputeS256Challenge(testVerifier))
	}

	if !VerifyPKCES256(testVerifier, testChallenge) {
		t.Error("reference vector failed to verify")
	}
	if VerifyPKCES256("wrong", testChallenge) {
		t.Error("wrong verifier accepted")
	}
	if VerifyPKCES256(testChallenge, testVerifier) {
		t.Error("swapped inputs accepted")
	}
	// Neither side may be empty: a client that sent no challenge must not
	// pass by sending no verifier.
	if VerifyPKCES256("", "") {
		t.Error("empty verifier and challenge accepted")
	}
	if VerifyPKCES256(testVerifier, "") {
		t.Error("empty challenge accepted")
	}
}

// TestPurpose: Validates opaque token generation: prefixes, entropy length, hash linkage, and uniqueness.
// Scope: Unit Test
// Security: Credential generation (CSPRNG, hashed-at-rest)
// Expected: Tokens carry their prefix over 43 base64url characters, hash to lowercase hex SHA-256, and never repeat.
func TestOAuth2_GenerateToken(t *testing.T) {
	prefixes := []string{ClientIDPrefix, ClientSecretPrefix, AccessTokenPrefix, RefreshTokenPrefix}
	seen := make(map[string]bool)

	for _, prefix := range prefixes {
		plaintext, hash := GenerateToken(prefix)

		if !strings.HasPrefix(plaintext, prefix) {
			t.Errorf("token %q missing prefix %q", plaintext, prefix)
		}
		// 32 random bytes encode to 43 unpadded base64url characters.
		if got := len(plaintext) - len(prefix); got != 43 {
			t.Errorf("prefix %q: expected 43 random characters, got %d", prefix, got)
		}
		if hash != HashToken(plaintext) {
			t.Errorf("returned hash does not match HashToken(plaintext)")
		}
		if len(hash) != 64 || strings.ToLower(hash) != hash {
			t.Errorf("hash is not lowercase hex sha256: %q", hash)
		}
		if seen[plaintext] {
			t.Errorf("duplicate token generated: %q", plaintext)
		}
		seen[plaintext] = true
	}
}

// TestPurpose: Validates the storage digest and its constant-time verifier.
// Scope: Unit Test
// Security: Hashed-at-rest secrets with timing-safe comparison
// Expected: HashToken yields the known SHA-256 hex digest and VerifyTokenHash only accepts the exact preimage.
func TestOAuth2_HashToken(t *testing.T) {
	// sha256("test")
	const want = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	if got := HashToken("test"); got != want {
		t.Errorf("HashToken(\"test\") = %q, want %q", got, want)
	}

	if !VerifyTokenHash("test", want) {
		t.Error("correct preimage rejected")
	}
	if VerifyTokenHash("Test", want) {
		t.Error("wrong preimage accepted")
	}
	if VerifyTokenHash("test", "") {
		t.Error("empty stored hash accepted")
	}
}

// TestPurpose: Validates that authorization codes come bare while every other credential kind is prefixed.
// Scope: Unit Test
// Security: Credential namespace routing for the auth dispatcher
// Expected: GenerateCode output carries no bow_ prefix and uses the full 43-character entropy.
func TestOAuth2_GenerateCode(t *testing.T) {
	code := GenerateCode()
	if strings.HasPrefix(code, "bow_") {
		t.Errorf("authorization code carries a prefix: %q", code)
	}
	if len(code) != 43 {
		t.Errorf("expected 43 characters of entropy, got %d", len(code))
	}
}
