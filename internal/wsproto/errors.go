package wsproto

import "errors"

var (
	ErrInvalidOpcode       = errors.New("wsproto: invalid opcode")
	ErrReservedBits        = errors.New("wsproto: nonzero reserved bits")
	ErrControlFragmented   = errors.New("wsproto: fragmented control frame")
	ErrControlTooLarge     = errors.New("wsproto: control frame payload exceeds 125 bytes")
	ErrFrameTooLarge       = errors.New("wsproto: frame payload exceeds limit")
	ErrUnexpectedContinue  = errors.New("wsproto: continuation frame without started message")
	ErrExpectedContinue    = errors.New("wsproto: new data frame while message in progress")
	ErrInvalidClosePayload = errors.New("wsproto: invalid close frame payload")
	ErrClosed              = errors.New("wsproto: connection state does not permit sending")
)
