package protocol

import (
	"errors"
	"fmt"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrBusy            = "E_BUSY"
	ErrInternal        = "E_INTERNAL"

	// Board initialize.
	ErrNotPersonalPostbox    = "E_NOT_PERSONAL_POSTBOX"
	ErrBadDescriptionSetting = "E_BAD_DESCRIPTION_SETTING"

	// Create post.
	ErrPostIDTooLarge             = "E_POST_ID_TOO_LARGE"
	ErrReplyToNotPost             = "E_REPLY_TO_NOT_POST"
	ErrReplyCannotRestrictReplies = "E_REPLY_CANNOT_RESTRICT_REPLIES"
	ErrPostInvalidSettingsType    = "E_POST_INVALID_SETTINGS_TYPE"

	// Post restrictions.
	ErrNotTokenAccount                 = "E_NOT_TOKEN_ACCOUNT"
	ErrMissingTokenRestriction         = "E_MISSING_TOKEN_RESTRICTION"
	ErrInvalidMetadataKey              = "E_INVALID_METADATA_KEY"
	ErrMetadataAccountInvalid          = "E_METADATA_ACCOUNT_INVALID"
	ErrNoCollectionOnMetadata          = "E_NO_COLLECTION_ON_METADATA"
	ErrMissingCollectionNftRestriction = "E_MISSING_COLLECTION_NFT_RESTRICTION"
	ErrMalformedSetting                = "E_MALFORMED_SETTING"
	ErrInvalidRestrictionExtraAccounts = "E_INVALID_RESTRICTION_EXTRA_ACCOUNTS"
	ErrMissingRequiredOffsets          = "E_MISSING_REQUIRED_OFFSETS"
	ErrAlreadyVoted                    = "E_ALREADY_VOTED"

	// Ownership and record state.
	ErrInvalidOwners      = "E_INVALID_OWNERS"
	ErrNotOwner           = "E_NOT_OWNER"
	ErrNotPoster          = "E_NOT_POSTER"
	ErrNotModerator       = "E_NOT_MODERATOR"
	ErrAlreadyInitialized = "E_ALREADY_INITIALIZED"
	ErrPostExists         = "E_POST_EXISTS"
	ErrBoardNotFound      = "E_BOARD_NOT_FOUND"
	ErrPostNotFound       = "E_POST_NOT_FOUND"

	// Ledger and asset registry.
	ErrInsufficientFunds = "E_INSUFFICIENT_FUNDS"
	ErrRecordExists      = "E_RECORD_EXISTS"
	ErrRecordNotFound    = "E_RECORD_NOT_FOUND"
	ErrNotRecordOwner    = "E_NOT_RECORD_OWNER"
	ErrAssetAuthority    = "E_ASSET_AUTHORITY"
)

type codeInfo struct {
	num uint32
	msg string
}

// Numeric codes for the forum errors keep the values clients already branch
// on (6000 + offset). Everything else lives above 6300.
var knownCodes = map[string]codeInfo{
	ErrProtoBadRequest: {0, "malformed message"},
	ErrBadRequest:      {0, "bad request"},
	ErrBusy:            {0, "server busy"},
	ErrInternal:        {0, "internal error"},

	ErrNotPersonalPostbox:    {6000, "if no target string, target account must be the signer"},
	ErrBadDescriptionSetting: {6001, "the description provided is not a description setting"},

	ErrPostIDTooLarge:             {6100, "the provided post ID is too large an increase"},
	ErrReplyToNotPost:             {6101, "the reply-to account is not a post account"},
	ErrReplyCannotRestrictReplies: {6102, "replies cannot have a further reply restriction"},
	ErrPostInvalidSettingsType:    {6103, "invalid setting type for post"},

	ErrNotTokenAccount:                 {6200, "the provided token account is not a token account"},
	ErrMissingTokenRestriction:         {6201, "missing the token required by the restriction"},
	ErrInvalidMetadataKey:              {6202, "account provided is not expected metadata key"},
	ErrMetadataAccountInvalid:          {6203, "the provided account is not a metadata account"},
	ErrNoCollectionOnMetadata:          {6204, "no collection set on the metadata"},
	ErrMissingCollectionNftRestriction: {6205, "missing an NFT from the collection required by the restriction"},
	ErrMalformedSetting:                {6206, "cannot parse a setting"},
	ErrInvalidRestrictionExtraAccounts: {6207, "extra account offsets invalid for this restriction type"},
	ErrMissingRequiredOffsets:          {6208, "must supply offsets when a post restriction applies"},
	ErrAlreadyVoted:                    {6210, "already voted on this post"},

	ErrInvalidOwners:      {6300, "owners must be a non-empty set containing the signer"},
	ErrNotOwner:           {6301, "signer is not a board owner"},
	ErrNotPoster:          {6302, "signer is not the poster"},
	ErrNotModerator:       {6303, "signer does not hold the moderator credential"},
	ErrAlreadyInitialized: {6304, "board already initialized"},
	ErrPostExists:         {6305, "a post already exists at this id"},
	ErrBoardNotFound:      {6306, "board not found"},
	ErrPostNotFound:       {6307, "post not found"},

	ErrInsufficientFunds: {6400, "insufficient funds"},
	ErrRecordExists:      {6401, "record already exists"},
	ErrRecordNotFound:    {6402, "record not found"},
	ErrNotRecordOwner:    {6403, "record is owned by another program"},
	ErrAssetAuthority:    {6404, "wrong asset authority"},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// NumericCode returns the stable numeric code, or 0 when the code has none.
func NumericCode(code string) uint32 { return knownCodes[code].num }

// Error is a failure with a stable code. Two errors match under errors.Is
// when their codes are equal.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError builds an error carrying the default message for code.
func NewError(code string) *Error {
	return &Error{Code: code, Message: knownCodes[code].msg}
}

func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code from err. Errors without one map to E_INTERNAL.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}
