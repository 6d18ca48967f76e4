package domain

import "fmt"

// StatusCode describes the outcome of a lookup attempt. It is informational;
// nothing in the dispatch path branches on it.
type StatusCode uint8

const (
	StatusNull StatusCode = iota
	StatusConfigError
	StatusFail
	StatusNoResult
	StatusSuccess
)

func (s StatusCode) String() string {
	switch s {
	case StatusNull:
		return "null"
	case StatusConfigError:
		return "config_error"
	case StatusFail:
		return "fail"
	case StatusNoResult:
		return "no_result"
	case StatusSuccess:
		return "success"
	default:
		return fmt.Sprintf("StatusCode(%d)", s)
	}
}

// LookupResponse is caller metadata produced by a provider. Any field other
// than ProviderName and Number may be empty.
type LookupResponse struct {
	ProviderName    string
	Name            string
	Number          string
	City            string
	Country         string
	Address         string
	PhotoURL        string
	SpamCount       int
	AttributionLogo string
	Status          StatusCode
}

// IsSpam reports whether any spam reports exist for the number.
func (r LookupResponse) IsSpam() bool { return r.SpamCount > 0 }
