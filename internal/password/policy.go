// Package password implements the encryption password policy: a validator
// with actionable failure reasons and a deterministic strength score.
package password

import "strings"

// Reason identifies which policy rule a password failed.
type Reason string

const (
	ReasonTooShort       Reason = "too_short"
	ReasonMissingLower   Reason = "missing_lowercase"
	ReasonMissingUpper   Reason = "missing_uppercase"
	ReasonMissingDigit   Reason = "missing_digit"
	ReasonMissingSpecial Reason = "missing_special"
)

// Message returns user-facing guidance for the failed rule.
func (r Reason) Message() string {
	switch r {
	case ReasonTooShort:
		return "password must be at least 8 characters"
	case ReasonMissingLower:
		return "password must contain a lowercase letter"
	case ReasonMissingUpper:
		return "password must contain an uppercase letter"
	case ReasonMissingDigit:
		return "password must contain a digit"
	case ReasonMissingSpecial:
		return "password must contain a special character"
	}
	return "invalid password"
}

// ValidationResult reports whether a password satisfies the policy and, if
// not, the first rule it failed.
type ValidationResult struct {
	Valid  bool
	Reason Reason
}

// MinLength is the minimum accepted password length in characters.
const MinLength = 8

// weakPrefixes are well-known starts of guessable passwords.
var weakPrefixes = []string{"password", "12345", "qwerty"}

// Validate checks length and character composition. Each failing rule maps
// to its own reason so callers can render targeted guidance.
func Validate(pw string) ValidationResult {
	runes := []rune(pw)
	if len(runes) < MinLength {
		return ValidationResult{Reason: ReasonTooShort}
	}
	c := classify(runes)
	switch {
	case !c.lower:
		return ValidationResult{Reason: ReasonMissingLower}
	case !c.upper:
		return ValidationResult{Reason: ReasonMissingUpper}
	case !c.digit:
		return ValidationResult{Reason: ReasonMissingDigit}
	case !c.special:
		return ValidationResult{Reason: ReasonMissingSpecial}
	}
	return ValidationResult{Valid: true}
}

// Score estimates password strength on a 0..100 scale. It is a pure
// heuristic, not an entropy measure: length contributes up to 40 points,
// character variety adds, trivial patterns subtract. Empty input scores 0.
func Score(pw string) int {
	if pw == "" {
		return 0
	}
	runes := []rune(pw)

	score := len(runes) * 4
	if score > 40 {
		score = 40
	}

	c := classify(runes)
	if c.lower {
		score += 10
	}
	if c.upper {
		score += 10
	}
	if c.digit {
		score += 10
	}
	if c.special {
		score += 15
	}

	if hasTripleRepeat(runes) {
		score -= 10
	}
	if !c.digit && !c.special && (c.lower || c.upper) {
		score -= 10 // letters only
	}
	if c.digit && !c.lower && !c.upper && !c.special {
		score -= 10 // digits only
	}
	lowered := strings.ToLower(pw)
	for _, p := range weakPrefixes {
		if strings.HasPrefix(lowered, p) {
			score -= 20
			break
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

type classes struct {
	lower, upper, digit, special bool
}

func classify(runes []rune) classes {
	var c classes
	for _, r := range runes {
		switch {
		case r >= 'a' && r <= 'z':
			c.lower = true
		case r >= 'A' && r <= 'Z':
			c.upper = true
		case r >= '0' && r <= '9':
			c.digit = true
		default:
			c.special = true
		}
	}
	return c
}

// hasTripleRepeat reports whether any character occurs 3+ times in a row.
func hasTripleRepeat(runes []rune) bool {
	for i := 2; i < len(runes); i++ {
		if runes[i] == runes[i-1] && runes[i] == runes[i-2] {
			return true
		}
	}
	return false
}
