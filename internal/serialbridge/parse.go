package serialbridge

import (
	"fmt"
	"strconv"
	"strings"
)

// Line kinds sent by the bridge board, one per line:
//
//	TAG <uid>     a card was presented; uid is the hex id, zero padded
//	PULSE <n>     n wheel pulses since the previous PULSE line
//	# ...         comment, ignored
type Kind int

const (
	KindIgnored Kind = iota
	KindTag
	KindPulse
)

type Event struct {
	Kind   Kind
	Tag    string
	Pulses uint16
}

// ParseLine decodes one line. Blank lines and comments yield KindIgnored.
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Event{}, nil
	}
	verb, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToUpper(verb) {
	case "TAG":
		if arg == "" {
			return Event{}, fmt.Errorf("tag line has no id")
		}
		return Event{Kind: KindTag, Tag: strings.ToLower(arg)}, nil
	case "PULSE":
		n, err := strconv.ParseUint(arg, 10, 16)
		if err != nil {
			return Event{}, fmt.Errorf("invalid pulse count %q: %w", arg, err)
		}
		return Event{Kind: KindPulse, Pulses: uint16(n)}, nil
	}
	return Event{}, fmt.Errorf("unknown line %q", line)
}
