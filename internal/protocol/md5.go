package protocol

import (
	"crypto/md5"
	"encoding/hex"
)

// MD5Hash is a 32-character lowercase hex digest, the identity key for
// beatmaps and replays throughout the protocol. The zero value is the
// empty hash.
type MD5Hash struct {
	hash [32]byte
	n    int
}

// ParseMD5Hash stores s verbatim, truncated to 32 bytes.
func ParseMD5Hash(s string) MD5Hash {
	var h MD5Hash
	h.n = copy(h.hash[:], s)
	return h
}

// HashBytes returns the MD5 digest of data.
func HashBytes(data []byte) MD5Hash {
	sum := md5.Sum(data)
	var h MD5Hash
	hex.Encode(h.hash[:], sum[:])
	h.n = 32
	return h
}

// HashString returns the MD5 digest of s.
func HashString(s string) MD5Hash {
	return HashBytes([]byte(s))
}

func (h MD5Hash) String() string {
	return string(h.hash[:h.n])
}

// IsEmpty reports whether no hash is set.
func (h MD5Hash) IsEmpty() bool {
	return h.n == 0
}

// MarshalJSON serializes the hash as a JSON string.
func (h MD5Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}
