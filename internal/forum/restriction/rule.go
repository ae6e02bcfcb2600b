// Package restriction describes who may post or vote and checks
// caller-supplied ownership proofs against those rules.
package restriction

import (
	"fmt"

	"postbox.dev/internal/codec"
	"postbox.dev/internal/ledger"
)

type Kind uint8

const (
	KindTokenOwnership Kind = iota
	KindNftOwnership
	KindNftListAnyOwnership
	KindTokenOrNftAnyOwnership
	KindNull
)

func (k Kind) String() string {
	switch k {
	case KindTokenOwnership:
		return "tokenOwnership"
	case KindNftOwnership:
		return "nftOwnership"
	case KindNftListAnyOwnership:
		return "nftListAnyOwnership"
	case KindTokenOrNftAnyOwnership:
		return "tokenOrNftAnyOwnership"
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Rule is one of TokenOwnership, NftOwnership, NftListAnyOwnership,
// TokenOrNftAnyOwnership or Null.
type Rule interface {
	Kind() Kind
	isRule()
}

type TokenRequirement struct {
	Mint   ledger.Key `json:"mint"`
	Amount uint64     `json:"amount"`
}

type TokenOwnership struct {
	Mint   ledger.Key
	Amount uint64
}

type NftOwnership struct {
	Collection ledger.Key
}

type NftListAnyOwnership struct {
	Collections []ledger.Key
}

type TokenOrNftAnyOwnership struct {
	Tokens      []TokenRequirement
	Collections []ledger.Key
}

// Null declares "no restriction" explicitly, which differs from a missing rule.
type Null struct{}

func (TokenOwnership) Kind() Kind         { return KindTokenOwnership }
func (NftOwnership) Kind() Kind           { return KindNftOwnership }
func (NftListAnyOwnership) Kind() Kind    { return KindNftListAnyOwnership }
func (TokenOrNftAnyOwnership) Kind() Kind { return KindTokenOrNftAnyOwnership }
func (Null) Kind() Kind                   { return KindNull }

func (TokenOwnership) isRule()         {}
func (NftOwnership) isRule()           {}
func (NftListAnyOwnership) isRule()    {}
func (TokenOrNftAnyOwnership) isRule() {}
func (Null) isRule()                   {}

// Size is the exact encoded length of rule.
func Size(rule Rule) int {
	switch r := rule.(type) {
	case TokenOwnership:
		return 1 + codec.KeySize + 8
	case NftOwnership:
		return 1 + codec.KeySize
	case NftListAnyOwnership:
		return 1 + 4 + codec.KeySize*len(r.Collections)
	case TokenOrNftAnyOwnership:
		return 1 + 4 + (codec.KeySize+8)*len(r.Tokens) + 4 + codec.KeySize*len(r.Collections)
	case Null:
		return 1
	default:
		panic(fmt.Sprintf("restriction: unknown rule %T", rule))
	}
}

func Encode(w *codec.Writer, rule Rule) {
	w.U8(uint8(rule.Kind()))
	switch r := rule.(type) {
	case TokenOwnership:
		w.Key(r.Mint)
		w.U64(r.Amount)
	case NftOwnership:
		w.Key(r.Collection)
	case NftListAnyOwnership:
		encodeKeys(w, r.Collections)
	case TokenOrNftAnyOwnership:
		w.U32(uint32(len(r.Tokens)))
		for _, t := range r.Tokens {
			w.Key(t.Mint)
			w.U64(t.Amount)
		}
		encodeKeys(w, r.Collections)
	case Null:
	}
}

func Decode(r *codec.Reader) Rule {
	switch k := Kind(r.U8()); k {
	case KindTokenOwnership:
		return TokenOwnership{Mint: r.Key(), Amount: r.U64()}
	case KindNftOwnership:
		return NftOwnership{Collection: r.Key()}
	case KindNftListAnyOwnership:
		return NftListAnyOwnership{Collections: decodeKeys(r)}
	case KindTokenOrNftAnyOwnership:
		n := r.Len()
		var tokens []TokenRequirement
		for i := 0; i < n && r.Err() == nil; i++ {
			tokens = append(tokens, TokenRequirement{Mint: r.Key(), Amount: r.U64()})
		}
		return TokenOrNftAnyOwnership{Tokens: tokens, Collections: decodeKeys(r)}
	case KindNull:
		return Null{}
	default:
		r.Fail(fmt.Errorf("restriction: unknown rule tag %d", uint8(k)))
		return nil
	}
}

func encodeKeys(w *codec.Writer, keys []ledger.Key) {
	w.U32(uint32(len(keys)))
	for _, k := range keys {
		w.Key(k)
	}
}

func decodeKeys(r *codec.Reader) []ledger.Key {
	n := r.Len()
	var out []ledger.Key
	for i := 0; i < n && r.Err() == nil; i++ {
		out = append(out, r.Key())
	}
	return out
}

// Check reports structural problems a rule must not carry when stored.
func Check(rule Rule) error {
	switch r := rule.(type) {
	case nil:
		return fmt.Errorf("missing rule")
	case NftListAnyOwnership:
		if len(r.Collections) == 0 {
			return fmt.Errorf("nftListAnyOwnership needs at least one collection")
		}
		if len(r.Collections) > codec.MaxLen {
			return fmt.Errorf("nftListAnyOwnership lists %d collections, limit %d", len(r.Collections), codec.MaxLen)
		}
	case TokenOrNftAnyOwnership:
		if len(r.Tokens) == 0 && len(r.Collections) == 0 {
			return fmt.Errorf("tokenOrNftAnyOwnership needs at least one token or collection")
		}
		if len(r.Tokens) > codec.MaxLen || len(r.Collections) > codec.MaxLen {
			return fmt.Errorf("tokenOrNftAnyOwnership list over %d entries", codec.MaxLen)
		}
	}
	return nil
}
