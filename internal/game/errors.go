package game

import (
	"errors"
	"strings"
)

// Rejections wrap one of these with a human-readable reason, e.g.
// fmt.Errorf("%w: not enough supply in station", ErrInsufficient).
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInsufficient = errors.New("insufficient")
	ErrInvalid      = errors.New("invalid request")
)

// Reason strips the sentinel prefix from a rejection so callers can show
// the reason on its own.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, sentinel := range []error{ErrNotFound, ErrConflict, ErrInsufficient, ErrInvalid} {
		if errors.Is(err, sentinel) {
			return strings.TrimPrefix(msg, sentinel.Error()+": ")
		}
	}
	return msg
}
