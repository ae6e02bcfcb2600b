package postbox

import (
	"bytes"
	"encoding/json"

	"postbox.dev/internal/protocol"
)

// Execute decodes args for op and runs the matching instruction.
func (p *Program) Execute(c *Ctx, op string, args json.RawMessage) error {
	switch op {
	case protocol.OpInitialize:
		var a InitializeArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return p.Initialize(c, a)
	case protocol.OpCreatePost:
		var a CreatePostArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return p.CreatePost(c, a)
	case protocol.OpDeleteOwnPost:
		var a DeleteOwnPostArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return p.DeleteOwnPost(c, a)
	case protocol.OpDeletePostByModerator:
		var a DeletePostByModeratorArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return p.DeletePostByModerator(c, a)
	case protocol.OpVote:
		var a VoteArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return p.Vote(c, a)
	case protocol.OpDesignateModerator:
		var a DesignateModeratorArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return p.DesignateModerator(c, a)
	case protocol.OpUpsertSetting:
		var a UpsertSettingArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return p.UpsertSetting(c, a)
	case protocol.OpEditPost:
		var a EditPostArgs
		if err := decodeArgs(args, &a); err != nil {
			return err
		}
		return p.EditPost(c, a)
	default:
		return protocol.Errorf(protocol.ErrBadRequest, "unknown op %q", op)
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return protocol.Errorf(protocol.ErrBadRequest, "args: %v", err)
	}
	return nil
}
