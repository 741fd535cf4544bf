// Package identity synthesizes and recognizes the device identity block
// smart.js firmware images keep at a fixed flash offset: a JSON document
// carrying a per-device ID and pre-shared key, self-authenticated with a
// leading SHA-1 hash so a flasher can tell a genuine block from stray data.
package identity

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// BlockSize is the fixed size of the identity block on flash: one sector.
const BlockSize = 4096

const sha1Length = sha1.Size

type document struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Generate builds a fresh, self-authenticated identity block for hostname:
// a SHA-1 digest, a JSON document deriving the device's ID and PSK from 12
// bytes read from a cryptographic random source, a NUL terminator, and
// 0xFF padding out to BlockSize.
func Generate(hostname string) ([]byte, error) {
	random := make([]byte, 12)
	if _, err := rand.Read(random); err != nil {
		return nil, errors.Wrap(err, "identity.Generate: reading random bytes")
	}

	doc := document{
		ID:  fmt.Sprintf("//%s/d/%s", hostname, base64.RawURLEncoding.EncodeToString(random[:5])),
		Key: base64.RawURLEncoding.EncodeToString(random[5:]),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "identity.Generate: marshaling document")
	}

	sum := sha1.Sum(data)
	block := make([]byte, 0, BlockSize)
	block = append(block, sum[:]...)
	block = append(block, data...)
	block = append(block, 0x00)
	if len(block) > BlockSize {
		return nil, errors.New("identity.Generate: document too large for one block")
	}
	for len(block) < BlockSize {
		block = append(block, 0xFF)
	}
	return block, nil
}

// Find reports whether block (which must be BlockSize bytes, though a
// shorter read is tolerated for callers probing a truncated read) contains
// a well-formed identity: a SHA-1 hash followed by the exact payload that
// hashes to it, followed by a NUL terminator.
func Find(block []byte) bool {
	if len(block) <= sha1Length {
		return false
	}
	hash := block[:sha1Length]
	terminator := bytes.IndexByte(block[sha1Length:], 0x00)
	if terminator < 0 {
		return false
	}
	payload := block[sha1Length : sha1Length+terminator]
	sum := sha1.Sum(payload)
	return bytes.Equal(sum[:], hash)
}
