package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var skuPattern = regexp.MustCompile(`^[A-Z0-9-]{3,20}$`)

// SKU is a normalized stock keeping unit code.
type SKU string

func ParseSKU(s string) (SKU, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if !skuPattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSKU, s)
	}
	return SKU(normalized), nil
}

func (s SKU) String() string { return string(s) }
