package schema

import (
	"strconv"
	"strings"
)

// NormalizeBaudRate returns rate when it is supported, otherwise DefaultBaudRate.
func NormalizeBaudRate(rate BaudRate) BaudRate {
	for _, known := range BaudRates {
		if rate == known {
			return rate
		}
	}
	return DefaultBaudRate
}

// NormalizeLineEnding returns eol when it is supported, otherwise DefaultLineEnding.
func NormalizeLineEnding(eol LineEnding) LineEnding {
	for _, known := range LineEndings {
		if eol == known {
			return eol
		}
	}
	return DefaultLineEnding
}

// ParseBaudRate parses a decimal rate such as "115200". Unsupported or
// malformed input yields DefaultBaudRate.
func ParseBaudRate(value string) BaudRate {
	rate, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return DefaultBaudRate
	}
	return NormalizeBaudRate(BaudRate(rate))
}

// ParseLineEnding accepts the raw endings, the symbolic names none, nl, cr,
// crlf and escaped forms such as `\r\n`. Unknown input yields DefaultLineEnding.
func ParseLineEnding(value string) LineEnding {
	eol, _ := LookupLineEnding(value)
	return eol
}

// LookupLineEnding is ParseLineEnding that also reports whether value named
// a supported line ending.
func LookupLineEnding(value string) (LineEnding, bool) {
	for _, known := range LineEndings {
		if LineEnding(value) == known {
			return known, true
		}
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none", "":
		return LineEndingNone, true
	case "nl", "lf", `\n`:
		return LineEndingNL, true
	case "cr", `\r`:
		return LineEndingCR, true
	case "crlf", "both", `\r\n`:
		return LineEndingCRLF, true
	}
	return DefaultLineEnding, false
}

// ValidateMonitorID ensures a monitor id matches [a-z0-9._-].
func ValidateMonitorID(id MonitorID) error {
	raw := string(id)
	if raw == "" {
		return ErrInvalidMonitor
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidMonitor
	}
	return nil
}
