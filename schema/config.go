package schema

// DefaultBaudRate is used whenever a rate outside BaudRates is requested.
const DefaultBaudRate BaudRate = 9600

// DefaultLineEnding is used whenever an unknown line ending is requested.
const DefaultLineEnding LineEnding = "\n"

const (
	// LineEndingNone sends text as typed.
	LineEndingNone LineEnding = ""
	// LineEndingNL appends a newline.
	LineEndingNL LineEnding = "\n"
	// LineEndingCR appends a carriage return.
	LineEndingCR LineEnding = "\r"
	// LineEndingCRLF appends both.
	LineEndingCRLF LineEnding = "\r\n"
)

// DefaultBufferMaxLines is the default console scrollback limit.
const DefaultBufferMaxLines = 5000

// BaudRates lists the supported line speeds in ascending order.
var BaudRates = []BaudRate{300, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

// LineEndings lists the supported line endings in menu order.
var LineEndings = []LineEnding{LineEndingNone, LineEndingNL, LineEndingCR, LineEndingCRLF}

// Label returns the user-facing name of the line ending.
func (e LineEnding) Label() string {
	switch e {
	case LineEndingNone:
		return "No Line Ending"
	case LineEndingNL:
		return "Newline"
	case LineEndingCR:
		return "Carriage Return"
	case LineEndingCRLF:
		return "Both NL & CR"
	default:
		return "Unknown"
	}
}
