package execution

import (
	"errors"
	"strings"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
)

const (
	rpcCodeUserRejected        = 4001
	rpcCodeUserRejectedUpgrade = 5750
)

type rpcCoder interface {
	ErrorCode() int
}

// IsUserRejection reports whether err means the user declined to sign.
// Structured codes are checked first; the substring match on the message is
// best-effort for wallets that return untyped errors.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if clierr.Is(err, clierr.CodeUserRejected) {
		return true
	}
	var coded rpcCoder
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case rpcCodeUserRejected, rpcCodeUserRejectedUpgrade:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rejected") || strings.Contains(msg, "denied")
}
