package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	ClientName        string   `json:"client_name"`
	// Signer is trusted as declared; transports do not verify signatures.
	Signer    string `json:"signer"`
	Subscribe bool   `json:"subscribe,omitempty"`
	// SinceCursor replays retained events after this cursor on connect.
	SinceCursor uint64 `json:"since_cursor,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type               string             `json:"type"`
	ProtocolVersion    string             `json:"protocol_version"`
	SelectedVersion    string             `json:"selected_version,omitempty"`
	SessionID          string             `json:"session_id"`
	Signer             string             `json:"signer"`
	ServerCapabilities ServerCapabilities `json:"server_capabilities,omitempty"`
	Program            ProgramParams      `json:"program"`
	Cursor             uint64             `json:"cursor"`
}

type ServerCapabilities struct {
	EventBatch bool     `json:"event_batch,omitempty"`
	Ops        []string `json:"ops,omitempty"`
}

// ProgramParams describes the deployment the client is talking to.
type ProgramParams struct {
	ProgramID string `json:"program_id"`
	Treasury  string `json:"treasury"`
	Fees      Fees   `json:"fees"`
	Growth    uint32 `json:"growth"`
}

type Fees struct {
	NewPostbox         uint64 `json:"new_postbox"`
	NewPersonalPostbox uint64 `json:"new_personal_postbox"`
	Post               uint64 `json:"post"`
	Vote               uint64 `json:"vote"`
}

// INSTRUCTION (client -> server)
type InstructionMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id"`
	Signer          string          `json:"signer,omitempty"`
	Op              string          `json:"op"`
	Args            json.RawMessage `json:"args"`
}

// RESULT (server -> client), one per INSTRUCTION.
type ResultMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id"`
	OK              bool    `json:"ok"`
	Code            string  `json:"code,omitempty"`
	NumericCode     uint32  `json:"numeric_code,omitempty"`
	Message         string  `json:"message,omitempty"`
	Seq             uint64  `json:"seq,omitempty"`
	Events          []Event `json:"events,omitempty"`
}

// EVENT (server -> subscribed client)
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Cursor          uint64 `json:"cursor"`
	Event           Event  `json:"event"`
}
