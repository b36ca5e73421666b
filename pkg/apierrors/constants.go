package apierrors

const (
	MsgInvalidPayload   = "invalidPayload"
	MsgInvalidMode      = "invalidMode"
	MsgGroupNotFound    = "groupNotFound"
	MsgTaskNotFound     = "taskNotFound"
	MsgResourceNotFound = "resourceNotFound"
	MsgNotFound         = "notFound"
	MsgDepthExceeded    = "depthExceeded"
	MsgModeRequired     = "modeRequired"
	MsgInvalidMove      = "invalidMove"
	MsgPersistFailed    = "persistFailed"
	MsgPartialCascade   = "partialCascade"
	MsgNoStorage        = "noStorage"
	MsgFileTooLarge     = "fileTooLarge"
	MsgUnknownAssignee  = "unknownAssignee"
	MsgForbidden        = "forbidden"
	MsgInternal         = "internalError"
)
