package chain

import "strings"

// VerifyStatus is the decoded outcome of verifyCertificate. The contract
// returns a descriptive string, not a boolean; it is decoded exactly once at
// this boundary so nothing downstream matches on substrings.
type VerifyStatus int

const (
	VerifyUnknown VerifyStatus = iota
	VerifyValid
	VerifyRevoked
	VerifyNotFound
)

// affirmativeSubstring is the marker the contract includes in its status
// message for a valid certificate. "valid" alone would also match the
// contract's "invalid" wording, so the marker carries the leading verb.
const affirmativeSubstring = "is valid"

// DecodeVerifyStatus maps the contract's raw status message to a VerifyStatus.
func DecodeVerifyStatus(raw string) VerifyStatus {
	msg := strings.ToLower(raw)
	switch {
	case strings.Contains(msg, "revoked"), strings.Contains(msg, "invalid"):
		return VerifyRevoked
	case strings.Contains(msg, "not found"), strings.Contains(msg, "does not exist"):
		return VerifyNotFound
	case strings.Contains(msg, affirmativeSubstring):
		return VerifyValid
	default:
		return VerifyUnknown
	}
}

// IsValid reports the boolean view of the status.
func (s VerifyStatus) IsValid() bool {
	return s == VerifyValid
}

func (s VerifyStatus) String() string {
	switch s {
	case VerifyValid:
		return "valid"
	case VerifyRevoked:
		return "revoked"
	case VerifyNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
