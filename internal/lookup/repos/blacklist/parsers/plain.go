package parsers

import (
	"bufio"
	"io"
	"strings"

	logpkg "github.com/haukened/rr-lookup/internal/lookup/common/log"
	"github.com/haukened/rr-lookup/internal/lookup/common/phone"
	"github.com/haukened/rr-lookup/internal/lookup/domain"
)

// ParsePlainList parses a newline-delimited list of phone numbers into
// blacklist entries. A trailing '*' makes a prefix entry ("+1900*").
//
// Behavior:
// - Supports comments starting with '#' (inline or whole-line)
// - An optional second token selects the flags: calls, messages or all (default)
// - Skips lines with no digits
// - De-duplicates by normalized number and kind, keeping the first line seen
func ParsePlainList(r io.Reader, source string, logger logpkg.Logger) ([]domain.BlacklistEntry, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]domain.BlacklistEntry, 0, 64)
	logger.Debug(map[string]any{"source": source}, "parse_plain_list_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimPrefix(scanner.Text(), "\uFEFF")

		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		flags := domain.BlockAll
		numberTokens := fields
		if len(fields) > 1 {
			if f, ok := flagsFromToken(fields[len(fields)-1]); ok {
				flags = f
				numberTokens = fields[:len(fields)-1]
			}
		}

		entry, ok := entryFromRaw(strings.Join(numberTokens, ""))
		if !ok {
			logger.Debug(map[string]any{"line": lineNum, "raw": line}, "skip_invalid_number")
			continue
		}
		entry.Flags = flags

		seenKey := entry.Number + "|" + entry.Kind.String()
		if _, dup := seen[seenKey]; dup {
			logger.Debug(map[string]any{"line": lineNum, "number": entry.Number}, "skip_duplicate")
			continue
		}
		seen[seenKey] = struct{}{}
		out = append(out, entry)
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_plain_list_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_plain_list_done")
	return out, nil
}

// entryFromRaw normalizes raw and decides its kind.
func entryFromRaw(raw string) (domain.BlacklistEntry, bool) {
	n := phone.NormalizeForBlacklist(raw)
	if n == "" {
		return domain.BlacklistEntry{}, false
	}
	if phone.IsPrefixPattern(n) {
		return domain.BlacklistEntry{Number: strings.TrimSuffix(n, string(phone.Wildcard)), Kind: domain.EntryPrefix}, true
	}
	return domain.BlacklistEntry{Number: n, Kind: domain.EntryExact}, true
}

func flagsFromToken(tok string) (domain.BlockMask, bool) {
	switch strings.ToLower(tok) {
	case "all":
		return domain.BlockAll, true
	case "calls":
		return domain.BlockCalls, true
	case "messages", "sms":
		return domain.BlockMessages, true
	}
	return domain.BlockNone, false
}
