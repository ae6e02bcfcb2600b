package postbox

import (
	"postbox.dev/internal/codec"
	"postbox.dev/internal/forum/restriction"
)

// MaxPostData bounds a post payload so the record stays decodable.
const MaxPostData = codec.MaxLen

// ProjectPostSize is the record length of a post with dataLen bytes of
// payload. The restriction is charged once, whether it was supplied by the
// poster or inherited from the parent.
func ProjectPostSize(dataLen int, replying bool, rule restriction.Rule) int {
	n := codec.DiscriminatorSize + 2*codec.KeySize + 4 + dataLen + 2 + 2
	n += 1
	if replying {
		n += codec.KeySize
	}
	n += 1
	if rule != nil {
		n += restriction.Size(rule)
	}
	return n
}

// BoardSize is the record length of b.
func BoardSize(b *Board) int { return b.Size() }
