package apperrors

import (
	"errors"
)

var (
	ErrShutdown = errors.New("shutdown error")

	ErrUnknownApp         = errors.New("unknown application id")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidPayload     = errors.New("payload does not match message type")
	ErrMailboxFull        = errors.New("mailbox is full")
	ErrMessageDoesNotExist = errors.New("message does not exist")

	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUserBlocked          = errors.New("user is blocked")
	ErrUserDoesNotExist     = errors.New("user does not exist")
	ErrNoAppPermission      = errors.New("no permission for target application")
	ErrSessionDoesNotExist  = errors.New("session does not exist")
	ErrSessionExpired       = errors.New("session expired")
	ErrUnifiedSessionAbsent = errors.New("unified session does not exist")

	ErrContextValueDoesNotExist = errors.New("context value does not exist")
	ErrContextValueInvalidType  = errors.New("invalid context value type")
)
