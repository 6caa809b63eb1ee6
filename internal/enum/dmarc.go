package enum

import "strings"

type Disposition string

const (
	DispositionNone       Disposition = "none"
	DispositionQuarantine Disposition = "quarantine"
	DispositionReject     Disposition = "reject"
)

func (t Disposition) String() string {
	return string(t)
}

// ParseDisposition maps a raw XML value to a Disposition. Non-compliant
// senders produce unknown values; those degrade to "none" so the rest of the
// report still imports.
func ParseDisposition(s string) Disposition {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quarantine":
		return DispositionQuarantine
	case "reject":
		return DispositionReject
	default:
		return DispositionNone
	}
}

type AuthResult string

const (
	AuthResultPass AuthResult = "pass"
	AuthResultFail AuthResult = "fail"
)

func (t AuthResult) String() string {
	return string(t)
}

// ParseAuthResult degrades unknown DKIM/SPF evaluation values to "fail".
func ParseAuthResult(s string) AuthResult {
	if strings.EqualFold(strings.TrimSpace(s), "pass") {
		return AuthResultPass
	}
	return AuthResultFail
}

type AlignmentMode string

const (
	AlignmentRelaxed AlignmentMode = "r"
	AlignmentStrict  AlignmentMode = "s"
)

func (t AlignmentMode) String() string {
	return string(t)
}

func ParseAlignmentMode(s string) AlignmentMode {
	if strings.EqualFold(strings.TrimSpace(s), "s") {
		return AlignmentStrict
	}
	return AlignmentRelaxed
}
