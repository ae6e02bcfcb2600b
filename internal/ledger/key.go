package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key identifies an actor, an asset or a record address.
type Key [32]byte

var Zero Key

func (k Key) String() string { return hex.EncodeToString(k[:]) }

func (k Key) Short() string { return hex.EncodeToString(k[:4]) }

func (k Key) IsZero() bool { return k == Zero }

func (k Key) Less(o Key) bool { return bytes.Compare(k[:], o[:]) < 0 }

func (k Key) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Key) UnmarshalText(b []byte) error {
	p, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = p
	return nil
}

func ParseKey(s string) (Key, error) {
	var k Key
	s = strings.TrimSpace(s)
	if len(s) != hex.EncodedLen(len(k)) {
		return k, fmt.Errorf("key: want %d hex chars, got %d", hex.EncodedLen(len(k)), len(s))
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return k, fmt.Errorf("key: %w", err)
	}
	return k, nil
}

// Named returns a deterministic key for a human readable name. Used for
// configured program ids, dev accounts and tests.
func Named(name string) Key {
	return Key(sha256.Sum256([]byte("named:" + name)))
}

// ParseOrNamed accepts either a hex key or a name.
func ParseOrNamed(s string) Key {
	if k, err := ParseKey(s); err == nil {
		return k
	}
	return Named(strings.TrimSpace(s))
}

// Derive computes a program-scoped address from seeds. Seeds are length
// prefixed so ("ab","c") and ("a","bc") never collide.
func Derive(program Key, seeds ...[]byte) Key {
	h := sha256.New()
	var n [4]byte
	for _, s := range seeds {
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte("derived-address"))
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

func ContainsKey(list []Key, k Key) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}
