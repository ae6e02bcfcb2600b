package settings

import (
	"fmt"

	"postbox.dev/internal/codec"
	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/ledger"
)

// Size is the exact encoded length of d, tag included.
func Size(d Data) int {
	switch v := d.(type) {
	case Description:
		return 1 + codec.StringSize(v.Title) + codec.StringSize(v.Desc)
	case OwnerInfo:
		return 1 + 4 + codec.KeySize*len(v.Owners)
	case PostRestriction:
		return 1 + restriction.Size(v.Rule)
	case Null:
		return 1
	case Images:
		return 1 + codec.StringSize(v.Background) + codec.StringSize(v.Thumbnail)
	default:
		panic(fmt.Sprintf("settings: unknown entry %T", d))
	}
}

// ListSize includes the u32 length prefix.
func ListSize(list []Data) int {
	n := 4
	for _, d := range list {
		n += Size(d)
	}
	return n
}

func Encode(w *codec.Writer, d Data) {
	w.U8(uint8(d.Kind()))
	switch v := d.(type) {
	case Description:
		w.String(v.Title)
		w.String(v.Desc)
	case OwnerInfo:
		w.U32(uint32(len(v.Owners)))
		for _, o := range v.Owners {
			w.Key(o)
		}
	case PostRestriction:
		restriction.Encode(w, v.Rule)
	case Null:
	case Images:
		w.String(v.Background)
		w.String(v.Thumbnail)
	}
}

func Decode(r *codec.Reader) Data {
	switch k := Kind(r.U8()); k {
	case KindDescription:
		return Description{Title: r.String(), Desc: r.String()}
	case KindOwnerInfo:
		n := r.Len()
		var owners []ledger.Key
		for i := 0; i < n && r.Err() == nil; i++ {
			owners = append(owners, r.Key())
		}
		return OwnerInfo{Owners: owners}
	case KindPostRestriction:
		return PostRestriction{Rule: restriction.Decode(r)}
	case KindNull:
		return Null{}
	case KindImages:
		return Images{Background: r.String(), Thumbnail: r.String()}
	default:
		r.Fail(fmt.Errorf("settings: unknown tag %d", uint8(k)))
		return nil
	}
}

func EncodeList(w *codec.Writer, list []Data) {
	w.U32(uint32(len(list)))
	for _, d := range list {
		Encode(w, d)
	}
}

func DecodeList(r *codec.Reader) []Data {
	n := r.Len()
	out := make([]Data, 0, min(n, r.Remaining()))
	for i := 0; i < n && r.Err() == nil; i++ {
		if d := Decode(r); d != nil {
			out = append(out, d)
		}
	}
	return out
}
