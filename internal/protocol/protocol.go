package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello         = "HELLO"
	TypeWelcome       = "WELCOME"
	TypeInstruction   = "INSTRUCTION"
	TypeResult        = "RESULT"
	TypeEvent         = "EVENT"
	TypeEventBatchReq = "EVENT_BATCH_REQ"
	TypeEventBatch    = "EVENT_BATCH"
)

// Instruction ops.
const (
	OpInitialize            = "INITIALIZE"
	OpCreatePost            = "CREATE_POST"
	OpDeleteOwnPost         = "DELETE_OWN_POST"
	OpDeletePostByModerator = "DELETE_POST_BY_MODERATOR"
	OpVote                  = "VOTE"
	OpDesignateModerator    = "DESIGNATE_MODERATOR"
	OpUpsertSetting         = "UPSERT_SETTING"
	OpEditPost              = "EDIT_POST"
)

var ops = []string{
	OpInitialize,
	OpCreatePost,
	OpDeleteOwnPost,
	OpDeletePostByModerator,
	OpVote,
	OpDesignateModerator,
	OpUpsertSetting,
	OpEditPost,
}

// Ops lists every instruction op in a stable order.
func Ops() []string { return append([]string(nil), ops...) }

func IsKnownOp(op string) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
