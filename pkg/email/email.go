// Package email normalizes addresses handed over by the auth provider and
// derives display names for profiles created without one.
package email

import (
	"errors"
	"strings"
	"unicode"

	"github.com/asaskevich/govalidator"
)

var ErrInvalid = errors.New("invalid email address")

// Normalize trims and lowercases address and checks its shape.
func Normalize(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if !govalidator.IsEmail(address) {
		return "", ErrInvalid
	}
	return address, nil
}

// DeriveName splits the local part on separators: "juan.dela-cruz@x" gives
// ("Juan", "Cruz"). Missing parts fall back to "User".
func DeriveName(address string) (first, last string) {
	localPart := address
	if at := strings.IndexByte(address, '@'); at >= 0 {
		localPart = address[:at]
	}
	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "User", "User"
	}
	first, last = capitalize(parts[0]), "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}
	return first, last
}

func capitalize(s string) string {
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
