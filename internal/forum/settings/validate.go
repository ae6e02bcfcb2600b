package settings

import (
	"postbox.dev/internal/codec"
	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

// ValidateDescription checks an entry placed in a Description slot.
func ValidateDescription(d Data) error {
	desc, ok := d.(Description)
	if !ok {
		return protocol.Errorf(protocol.ErrBadDescriptionSetting, "got %s", kindOf(d))
	}
	if desc.Title == "" || desc.Desc == "" {
		return protocol.Errorf(protocol.ErrMalformedSetting, "description needs a title and a desc")
	}
	if len(desc.Title) > codec.MaxLen || len(desc.Desc) > codec.MaxLen {
		return protocol.Errorf(protocol.ErrMalformedSetting, "description field over %d bytes", codec.MaxLen)
	}
	return nil
}

// Validate checks an entry about to be stored under kind.
func Validate(kind Kind, d Data) error {
	if d == nil {
		return protocol.Errorf(protocol.ErrMalformedSetting, "missing setting data")
	}
	if d.Kind() != kind {
		if kind == KindDescription {
			return protocol.Errorf(protocol.ErrBadDescriptionSetting, "got %s", d.Kind())
		}
		return protocol.Errorf(protocol.ErrMalformedSetting, "kind %s does not match data %s", kind, d.Kind())
	}
	switch v := d.(type) {
	case Description:
		return ValidateDescription(v)
	case OwnerInfo:
		return ValidateOwners(v.Owners)
	case PostRestriction:
		if err := restriction.Check(v.Rule); err != nil {
			return protocol.Errorf(protocol.ErrMalformedSetting, "%v", err)
		}
	case Null:
		return protocol.Errorf(protocol.ErrMalformedSetting, "null is not a storable setting")
	}
	return nil
}

// ValidateOwners rejects an empty list, an oversized one and duplicates.
func ValidateOwners(owners []ledger.Key) error {
	if len(owners) == 0 {
		return protocol.Errorf(protocol.ErrInvalidOwners, "owner list is empty")
	}
	if len(owners) > codec.MaxLen {
		return protocol.Errorf(protocol.ErrInvalidOwners, "%d owners, limit %d", len(owners), codec.MaxLen)
	}
	seen := make(map[ledger.Key]struct{}, len(owners))
	for _, o := range owners {
		if _, dup := seen[o]; dup {
			return protocol.Errorf(protocol.ErrInvalidOwners, "duplicate owner %s", o.Short())
		}
		seen[o] = struct{}{}
	}
	return nil
}

func kindOf(d Data) string {
	if d == nil {
		return "nothing"
	}
	return d.Kind().String()
}
