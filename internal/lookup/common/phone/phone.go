package phone

import (
	"errors"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidNumber is returned when a number cannot be parsed into a dialable form.
var ErrInvalidNumber = errors.New("phone number is invalid")

// E.164: a plus sign followed by up to fifteen digits, no leading zero.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Wildcard marks a blacklist prefix entry, e.g. "+1900*".
const Wildcard = '*'

// IsE164Format reports whether s is an E.164 formatted phone number.
func IsE164Format(s string) bool {
	return e164Pattern.MatchString(s)
}

// keypad maps letters to the digit sharing their key, so vanity numbers
// such as 1-800-FLOWERS normalize to the digits actually dialled.
var keypad = map[rune]rune{
	'a': '2', 'b': '2', 'c': '2',
	'd': '3', 'e': '3', 'f': '3',
	'g': '4', 'h': '4', 'i': '4',
	'j': '5', 'k': '5', 'l': '5',
	'm': '6', 'n': '6', 'o': '6',
	'p': '7', 'q': '7', 'r': '7', 's': '7',
	't': '8', 'u': '8', 'v': '8',
	'w': '9', 'x': '9', 'y': '9', 'z': '9',
}

// NormalizeForBlacklist returns the key a number is stored under in the blacklist:
//   - separators and whitespace removed
//   - letters mapped to keypad digits
//   - a leading '+' kept
//   - a trailing '*' kept as the prefix wildcard
//
// Returns "" when no digits remain.
func NormalizeForBlacklist(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	wildcard := strings.HasSuffix(raw, string(Wildcard))

	var b strings.Builder
	b.Grow(len(raw))
	digits := 0
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		default:
			if d, ok := keypad[r]; ok {
				b.WriteRune(d)
				digits++
			}
		}
	}
	if digits == 0 {
		return ""
	}
	if wildcard {
		b.WriteRune(Wildcard)
	}
	return b.String()
}

// IsPrefixPattern reports whether a normalized blacklist key is a wildcard prefix.
func IsPrefixPattern(normalized string) bool {
	return strings.HasSuffix(normalized, string(Wildcard))
}

// ToE164 parses raw in the context of defaultRegion (ISO 3166 alpha-2) and
// formats it as E.164. This is the form lookup providers expect, and it is
// independent of the blacklist key produced by NormalizeForBlacklist.
func ToE164(raw, defaultRegion string) (string, error) {
	if IsE164Format(raw) {
		return raw, nil
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", errors.Join(ErrInvalidNumber, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", ErrInvalidNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Display formats an E.164 number in international notation for humans.
// Unparseable input is returned unchanged.
func Display(number string) string {
	num, err := phonenumbers.Parse(number, "")
	if err != nil {
		return number
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

// IsSupportedRegion reports whether region is a region libphonenumber has metadata for.
func IsSupportedRegion(region string) bool {
	return phonenumbers.GetSupportedRegions()[strings.ToUpper(region)]
}
