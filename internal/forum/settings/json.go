package settings

import (
	"encoding/json"
	"fmt"

	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/ledger"
)

type descriptionJSON struct {
	Title string `json:"title"`
	Desc  string `json:"desc"`
}

type ownerInfoJSON struct {
	Owners []ledger.Key `json:"owners"`
}

type postRestrictionJSON struct {
	PostRestriction restriction.JSON `json:"postRestriction"`
}

type imagesJSON struct {
	Background string `json:"background"`
	Thumbnail  string `json:"thumbnail"`
}

type entryJSON struct {
	Description     *descriptionJSON     `json:"description,omitempty"`
	OwnerInfo       *ownerInfoJSON       `json:"ownerInfo,omitempty"`
	PostRestriction *postRestrictionJSON `json:"postRestriction,omitempty"`
	Null            *struct{}            `json:"null,omitempty"`
	Images          *imagesJSON          `json:"images,omitempty"`
}

// Entry wraps a Data value in its client JSON shape, a single-key object
// named after the kind.
type Entry struct {
	Data Data
}

func (e Entry) MarshalJSON() ([]byte, error) {
	var j entryJSON
	switch v := e.Data.(type) {
	case Description:
		j.Description = &descriptionJSON{Title: v.Title, Desc: v.Desc}
	case OwnerInfo:
		j.OwnerInfo = &ownerInfoJSON{Owners: v.Owners}
	case PostRestriction:
		j.PostRestriction = &postRestrictionJSON{PostRestriction: restriction.JSON{Rule: v.Rule}}
	case Null:
		j.Null = &struct{}{}
	case Images:
		j.Images = &imagesJSON{Background: v.Background, Thumbnail: v.Thumbnail}
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("settings: unknown entry %T", e.Data)
	}
	return json.Marshal(j)
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		e.Data = nil
		return nil
	}
	var j entryJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	var out []Data
	if j.Description != nil {
		out = append(out, Description{Title: j.Description.Title, Desc: j.Description.Desc})
	}
	if j.OwnerInfo != nil {
		out = append(out, OwnerInfo{Owners: j.OwnerInfo.Owners})
	}
	if j.PostRestriction != nil {
		out = append(out, PostRestriction{Rule: j.PostRestriction.PostRestriction.Rule})
	}
	if j.Null != nil {
		out = append(out, Null{})
	}
	if j.Images != nil {
		out = append(out, Images{Background: j.Images.Background, Thumbnail: j.Images.Thumbnail})
	}
	if len(out) != 1 {
		return fmt.Errorf("settings: want exactly one variant, got %d", len(out))
	}
	e.Data = out[0]
	return nil
}

// Entries converts a settings list for JSON output.
func Entries(list []Data) []Entry {
	out := make([]Entry, len(list))
	for i, d := range list {
		out[i] = Entry{Data: d}
	}
	return out
}
