// Package settings holds the tagged configuration entries a board carries.
package settings

import (
	"fmt"
	"strings"

	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/ledger"
)

type Kind uint8

const (
	KindDescription Kind = iota
	KindOwnerInfo
	KindPostRestriction
	KindNull
	KindImages
)

var kindNames = [...]string{
	KindDescription:     "description",
	KindOwnerInfo:       "ownerInfo",
	KindPostRestriction: "postRestriction",
	KindNull:            "null",
	KindImages:          "images",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind accepts the JSON name of a kind, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if strings.EqualFold(name, s) {
			return Kind(i), true
		}
	}
	return 0, false
}

// Data is one of Description, OwnerInfo, PostRestriction, Null or Images.
type Data interface {
	Kind() Kind
	isData()
}

type Description struct {
	Title string
	Desc  string
}

type OwnerInfo struct {
	Owners []ledger.Key
}

// PostRestriction is the default rule for top-level posts on a board.
type PostRestriction struct {
	Rule restriction.Rule
}

type Null struct{}

type Images struct {
	Background string
	Thumbnail  string
}

func (Description) Kind() Kind     { return KindDescription }
func (OwnerInfo) Kind() Kind       { return KindOwnerInfo }
func (PostRestriction) Kind() Kind { return KindPostRestriction }
func (Null) Kind() Kind            { return KindNull }
func (Images) Kind() Kind          { return KindImages }

func (Description) isData()     {}
func (OwnerInfo) isData()       {}
func (PostRestriction) isData() {}
func (Null) isData()            {}
func (Images) isData()          {}

// Get returns the entry of the given kind.
func Get(list []Data, kind Kind) (Data, bool) {
	for _, d := range list {
		if d.Kind() == kind {
			return d, true
		}
	}
	return nil, false
}

// Upsert drops any entry of the same kind and appends entry, so the list
// never holds two entries of one kind.
func Upsert(list []Data, entry Data) []Data {
	out := make([]Data, 0, len(list)+1)
	for _, d := range list {
		if d.Kind() != entry.Kind() {
			out = append(out, d)
		}
	}
	return append(out, entry)
}

// Owners returns the board owners, or nil when no OwnerInfo is present.
func Owners(list []Data) []ledger.Key {
	if d, ok := Get(list, KindOwnerInfo); ok {
		return d.(OwnerInfo).Owners
	}
	return nil
}

// Rule returns the board's default post restriction, or nil.
func Rule(list []Data) restriction.Rule {
	if d, ok := Get(list, KindPostRestriction); ok {
		return d.(PostRestriction).Rule
	}
	return nil
}
