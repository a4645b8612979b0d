package apperrors

var (
	ErrNoDestination      = InvalidDestination("exactly one of recipient_id or chat_id is required")
	ErrSelfDestination    = InvalidDestination("cannot send a direct message to yourself")
	ErrEmptyMessage       = InvalidArg("message needs content or a media url")
	ErrUnknownType        = InvalidArg("unknown message type")
	ErrChatNotFound       = NotFound("group chat not found")
	ErrMessageNotFound    = NotFound("message not found")
	ErrMemberNotFound     = NotFound("membership not found")
	ErrNotPrivileged      = Forbidden("caller is not an active admin of this chat")
	ErrNotCreator         = Forbidden("only the chat creator can do this")
	ErrNotActiveMember    = Forbidden("sender is not an active member of this chat")
	ErrNotMember          = Forbidden("caller is not a member of this chat")
	ErrCapabilityOff      = Forbidden("this chat does not allow that kind of message")
	ErrCreatorImmutable   = Forbidden("the chat creator cannot be removed, muted or re-roled")
	ErrCreatorCannotLeave = Forbidden("the chat creator cannot leave the chat")
	ErrAdminNeedsCreator  = Forbidden("only the creator can remove an admin")
	ErrTerminalStatus     = Forbidden("membership has ended")
	ErrBadTransition      = Conflict("membership is not in a state that allows this change")
)
