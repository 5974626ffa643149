package lifecycle

import (
	"fmt"
	"strings"
)

// Routing address suffixes understood by the wire client.
const (
	DirectSuffix = "@s.whatsapp.net"
	GroupSuffix  = "@g.us"
)

// NormalizeAddress turns a caller-supplied target into a routing
// address. A target that already carries a recognized suffix is used
// verbatim; anything else is treated as a phone number: non-digit
// characters are stripped and the direct-chat suffix is appended.
func NormalizeAddress(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("%w: target is empty", ErrInvalidArgument)
	}
	if strings.HasSuffix(target, DirectSuffix) || strings.HasSuffix(target, GroupSuffix) {
		return target, nil
	}

	var digits strings.Builder
	for _, r := range target {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", fmt.Errorf("%w: target %q contains no digits", ErrInvalidArgument, target)
	}
	return digits.String() + DirectSuffix, nil
}
