package domain

import (
	apperrors "echoframe/pkg/errors"
)

var (
	ErrRoomNotFound    = apperrors.NewNotFoundError("room")
	ErrGuestNotFound   = apperrors.NewNotFoundError("guest")
	ErrRequestNotFound = apperrors.NewNotFoundError("request")
	ErrVideoNotFound   = apperrors.NewNotFoundError("video")

	ErrRoomInactive     = apperrors.NewConflictError("room is inactive")
	ErrNotPending       = apperrors.NewConflictError("guest is not pending")
	ErrGuestNotApproved = apperrors.NewConflictError("guest is not approved")
	ErrRoleMismatch     = apperrors.NewConflictError("guest does not hold the expected role")
	ErrNoVideo          = apperrors.NewConflictError("no video selected")

	ErrRoomOwnedElsewhere = apperrors.NewConflictError("room is held by another instance")

	ErrNotMember          = apperrors.NewForbiddenError("guest is not an approved member of the room")
	ErrNotController      = apperrors.NewForbiddenError("controller role required")
	ErrNotAdmin           = apperrors.NewForbiddenError("admin role required")
	ErrOutranked          = apperrors.NewForbiddenError("target role outranks actor")
	ErrSelfTarget         = apperrors.NewForbiddenError("cannot target yourself")
	ErrTargetIsController = apperrors.NewForbiddenError("controller permissions follow their role")
	ErrControllerRequest  = apperrors.NewForbiddenError("controllers act directly instead of submitting requests")
	ErrPermissionDenied   = apperrors.NewForbiddenError("permission revoked")
	ErrSessionRevoked     = apperrors.NewForbiddenError("session has been revoked")

	ErrRateLimited = apperrors.NewRateLimitError("request cooldown active")

	ErrUnknownCommand = apperrors.NewInvalidInputError("unknown command type")
	ErrSessionInvalid = apperrors.NewUnauthorizedError("session token is invalid or expired")

	ErrCatalogUnavailable   = apperrors.NewServiceUnavailableError("video catalog unavailable")
	ErrOwnershipUnavailable = apperrors.NewServiceUnavailableError("room ownership unavailable")
	ErrChatUnavailable      = apperrors.NewServiceUnavailableError("chat history unavailable")
)

// InvalidInput wraps a validation failure.
func InvalidInput(err error) *apperrors.AppError {
	return apperrors.NewInvalidInputError(err.Error())
}
