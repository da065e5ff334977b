package service

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/sah-anshu/wa2fa-meta/core"
)

// NormalizePhone validates a user-entered phone number and formats it to
// E.164. defaultRegion is the ISO-3166 alpha-2 country used when the input
// carries no international prefix; it may be empty, in which case the number
// must start with "+".
//
// Only mobile and fixed-line-or-mobile numbers are accepted — WhatsApp and
// SMS cannot reach anything else.
func NormalizePhone(rawInput, defaultRegion string) (string, error) {
	input := strings.TrimSpace(rawInput)
	if input == "" {
		return "", core.ErrPhoneRequired
	}

	parsed, err := phonenumbers.Parse(input, defaultRegion)
	if err != nil {
		return "", core.ErrPhoneNotParseable
	}

	if !phonenumbers.IsPossibleNumber(parsed) || !phonenumbers.IsValidNumber(parsed) {
		return "", core.ErrPhoneNotValid
	}

	switch phonenumbers.GetNumberType(parsed) {
	case phonenumbers.MOBILE, phonenumbers.FIXED_LINE_OR_MOBILE:
	default:
		return "", core.ErrPhoneNotMobile
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// IsDialablePhone reports whether a sender identity parses as a real phone
// number. WhatsApp substitutes a pseudonymous linked ID (LID) for users with
// strict privacy settings; those fail to parse and the webhook treats them as
// pseudonymous senders.
func IsDialablePhone(sender string) bool {
	candidate := sender
	if !strings.HasPrefix(candidate, "+") {
		candidate = "+" + candidate
	}
	parsed, err := phonenumbers.Parse(candidate, "")
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(parsed)
}
