package protocol

// EventBatchReqMsg pages through retained events (client -> server).
// Board, when set, keeps only that board's events; NextCursor still
// advances past everything scanned so paging terminates.
type EventBatchReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	SinceCursor     uint64 `json:"since_cursor"`
	Limit           int    `json:"limit"`
	Board           string `json:"board,omitempty"`
}

// EventBatchItem pairs an event with its global cursor.
type EventBatchItem struct {
	Cursor uint64 `json:"cursor"`
	Event  Event  `json:"event"`
}

type EventBatchMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id"`
	Events          []EventBatchItem `json:"events"`
	NextCursor      uint64           `json:"next_cursor"`
}

// FilterBoard returns the items whose event belongs to board.
func FilterBoard(items []EventBatchItem, board string) []EventBatchItem {
	out := make([]EventBatchItem, 0, len(items))
	for _, it := range items {
		if it.Event.Board == board {
			out = append(out, it)
		}
	}
	return out
}
