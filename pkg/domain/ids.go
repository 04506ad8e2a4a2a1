package domain

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "civreg/pkg/domain-errors"
)

// UserID identifies a signed-in user; it matches the auth provider identity.
type UserID uuid.UUID

// SessionID identifies one browser-like session whose ephemeral storage holds the draft id.
type SessionID uuid.UUID

// Row ids are server-assigned integers.
type (
	RequestID int64
	OwnerID   int64
	ParentID  int64
	AddressID int64
)

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id SessionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id RequestID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id OwnerID) String() string   { return strconv.FormatInt(int64(id), 10) }
func (id ParentID) String() string  { return strconv.FormatInt(int64(id), 10) }
func (id AddressID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseUserID parses a user id at a trust boundary.
// Errors: CodeInvalidInput for empty, malformed, or nil UUIDs.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

// ParseSessionID parses a session id; same rules as ParseUserID.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session id")
	return SessionID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	if !utf8.ValidString(s) {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is not valid UTF-8")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be nil")
	}
	return u, nil
}

// maxIDDigits bounds decimal ids to what fits in an int64.
const maxIDDigits = 19

// ParseRequestID parses the decimal form of a request id, as stored in session storage.
// Only plain positive decimal integers are accepted: no sign, whitespace, or fraction.
//
// Errors: CodeInvalidInput for anything else.
func ParseRequestID(s string) (RequestID, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid request id")
	}
	return RequestID(n), nil
}

func parsePositiveInt(s string) (int64, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	if len(s) > maxIDDigits {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "id too long")
	}
	if strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "id must be a decimal integer")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "id must be positive")
	}
	return n, nil
}
