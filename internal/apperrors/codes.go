package apperrors

// User-facing error codes.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeEmptyContent        = "EMPTY_MESSAGE_CONTENT"
	CodeInvalidAttachment   = "INVALID_ATTACHMENT_DATA"
	CodeInvalidGroupID      = "INVALID_GROUP_ID"
	CodeInvalidReplyID      = "INVALID_REPLY_ID"
	CodeInvalidMessageID    = "INVALID_MESSAGE_ID"
	CodeInvalidContentID    = "INVALID_CONTENT_ID"
	CodeGroupAccessDenied   = "GROUP_ACCESS_DENIED"
	CodeMessageAccessDenied = "MESSAGE_ACCESS_DENIED"
	CodeReplyNotFound       = "REPLY_MESSAGE_NOT_FOUND"
	CodeInvalidForward      = "INVALID_FORWARD_DATA"
	CodeGroupNotFound       = "GROUP_NOT_FOUND"
	CodeMessageNotFound     = "MESSAGE_NOT_FOUND"
	CodeContentNotFound     = "CONTENT_NOT_FOUND"
	CodeNoNeighbourhood     = "USER_NO_NEIGHBOURHOOD"
	CodeDuplicateGroupName  = "DUPLICATE_GROUP_NAME"
	CodeAlreadyMember       = "ALREADY_MEMBER"
	CodeNotMember           = "NOT_A_MEMBER"
	CodeGroupNotJoinable    = "GROUP_NOT_JOINABLE"
	CodeInvalidReaction     = "INVALID_REACTION_TYPE"
	CodeReactionConflict    = "REACTION_CONFLICT"
	CodeAlreadyReported     = "ALREADY_REPORTED"
	CodeNotFlagged          = "CONTENT_NOT_FLAGGED"
	CodeReasonRequired      = "MODERATION_REASON_REQUIRED"
	CodeInvalidContentType  = "INVALID_CONTENT_TYPE"
	CodeAdminRequired       = "ADMIN_REQUIRED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeDuplicateKey        = "DUPLICATE_KEY"
	CodeConstraint          = "CONSTRAINT_VIOLATION"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeOperationTimeout    = "OPERATION_TIMEOUT"
	CodeRequestCancelled    = "REQUEST_CANCELLED"
	CodeRequestTimeout      = "REQUEST_TIMEOUT"
	CodeConnection          = "DATABASE_CONNECTION_ERROR"
	CodeTransactionConflict = "TRANSACTION_CONFLICT"
	CodeResourceExhausted   = "RESOURCE_EXHAUSTED"
	CodeInternal            = "INTERNAL_ERROR"
	CodeInvariantViolation  = "INVARIANT_VIOLATION"
	CodeRouteNotFound       = "ROUTE_NOT_FOUND"
)
