package peer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// HandshakeInitPayload is the content of a qhp_handshake frame.
type HandshakeInitPayload struct {
	Fingerprint       string   `json:"fingerprint"`
	Challenge         string   `json:"challenge"`
	SupportedVersions []string `json:"supportedVersions"`
	PreferredVersion  string   `json:"preferredVersion"`
}

// HandshakeResponsePayload is the content of a qhp_handshake_response frame.
type HandshakeResponsePayload struct {
	Fingerprint string `json:"fingerprint"`
	Challenge   string `json:"challenge"`
	Response    string `json:"response"` // SHA-256(ourChallenge || peerFingerprint)
}

// HandshakeAckPayload is the content of a qhp_handshake_ack frame.
type HandshakeAckPayload struct {
	Response string `json:"response"` // SHA-256(peerChallenge || ourFingerprint)
}

// VersionNegotiationPayload is the content of a version_negotiation frame.
type VersionNegotiationPayload struct {
	SupportedVersions []string `json:"supportedVersions"`
	PreferredVersion  string   `json:"preferredVersion"`
}

// VersionNegotiationResponsePayload is the content of a
// version_negotiation_response frame.
type VersionNegotiationResponsePayload struct {
	SelectedVersion string `json:"selectedVersion"`
}

// newFingerprint generates a 256-bit random local fingerprint folded
// through SHA-256 over the local identity.
func newFingerprint(localIdentity string) (string, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("peer: generate fingerprint entropy: %w", err)
	}
	h := sha256.New()
	h.Write(random)
	h.Write([]byte(localIdentity))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// newChallenge generates a 128-bit random challenge.
func newChallenge() (string, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("peer: generate challenge: %w", err)
	}
	return hex.EncodeToString(random), nil
}

// challengeResponse computes SHA-256(challenge || fingerprint) hex-encoded,
// used both to verify the peer's response to our challenge and to compute
// our own response to the peer's challenge.
func challengeResponse(challenge, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(challenge))
	h.Write([]byte(fingerprint))
	return hex.EncodeToString(h.Sum(nil))
}

// verifyChallengeResponse reports whether response is the correct
// SHA-256(challenge || fingerprint) for the given inputs.
func verifyChallengeResponse(challenge, fingerprint, response string) bool {
	return challengeResponse(challenge, fingerprint) == response
}

// HandshakeTimeout is the default await window for a handshake response.
const HandshakeTimeout = 5 * time.Second
