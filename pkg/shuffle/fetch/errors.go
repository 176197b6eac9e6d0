package fetch

import (
	"errors"
	"net"
	"strings"

	"github.com/shuffle-engine/shuffle-core/pkg/shuffle/codec"
)

// isRetryable classifies a client task failure the way the admission loop
// needs it classified: a permanent error is logged at a higher level,
// while everything else is treated as the transient producer hiccup the
// loop is expected to shrug off. The admission loop retries both kinds.
func isRetryable(err error) bool {
	if err == nil {
		return true
	}

	if errors.Is(err, codec.ErrTruncated) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"type mismatch", "unexpected record shape"} {
		if strings.Contains(msg, pattern) {
			return false
		}
	}

	return true
}
