package exception

import "github.com/yanun0323/errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrRequestTimeout   = errors.New("request timed out")
)
