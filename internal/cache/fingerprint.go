// Package cache stores completed responses keyed by a conversation
// fingerprint so identical prompts can be replayed without a generation.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/JillVernus/chat-relay/internal/model"
)

// Fingerprint hashes the model ID, every history turn and the new user
// content into a stable cache key. Each field is length-prefixed before
// hashing so turn boundaries cannot alias ("ab"+"c" never collides with
// "a"+"bc").
func Fingerprint(modelID string, history []model.Message, newContent string) string {
	h := sha256.New()
	writeFramed(h, modelID)
	for _, turn := range history {
		writeFramed(h, turn.Role)
		writeFramed(h, turn.Content)
	}
	writeFramed(h, newContent)
	return hex.EncodeToString(h.Sum(nil))
}

func writeFramed(h interface{ Write([]byte) (int, error) }, s string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

// CanonicalPrompt flattens the conversation into the text stored next to
// the cached response. On lookup the stored text is compared with the
// incoming prompt, so a hash collision can never replay a stranger's
// response.
func CanonicalPrompt(modelID string, history []model.Message, newContent string) string {
	out := modelID
	for _, turn := range history {
		out += "\x1f" + turn.Role + "\x1f" + turn.Content
	}
	out += "\x1f" + newContent
	return out
}
