package protocol

import "encoding/json"

// Event types. PostCreated and PostDeleted are the indexer contract; the
// rest let read models follow board state without reading records.
const (
	EventPostCreated         = "PostCreated"
	EventPostDeleted         = "PostDeleted"
	EventPostEdited          = "PostEdited"
	EventPostVoted           = "PostVoted"
	EventBoardInitialized    = "BoardInitialized"
	EventSettingUpdated      = "SettingUpdated"
	EventModeratorDesignated = "ModeratorDesignated"
)

// Event is a flat record; keys are lowercase hex. Actor is the poster,
// deleter, voter or signer depending on Type.
type Event struct {
	Type      string          `json:"type"`
	Board     string          `json:"board,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	Post      string          `json:"post,omitempty"`
	PostID    *uint32         `json:"post_id,omitempty"`
	Data      string          `json:"data,omitempty"`
	ReplyTo   string          `json:"reply_to,omitempty"`
	Up        *bool           `json:"up,omitempty"`
	UpVotes   uint16          `json:"up_votes,omitempty"`
	DownVotes uint16          `json:"down_votes,omitempty"`
	Setting   string          `json:"setting,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Owners    []string        `json:"owners,omitempty"`
	Target    string          `json:"target,omitempty"`
	Subject   string          `json:"subject,omitempty"`
	Mint      string          `json:"mint,omitempty"`
	Refund    uint64          `json:"refund,omitempty"`
}
