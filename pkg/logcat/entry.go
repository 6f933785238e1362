// Package logcat parses lines of the Android logcat "brief" output format.
//
// A brief line looks like
//
//	I/ActivityManager(  612): Start proc com.example for activity
//
// i.e. a severity letter, a slash, the source tag (possibly padded), the pid
// in parentheses (possibly left-padded) and the message after "): ".
//
// Parsing never fails. Anything that does not have that shape becomes an
// Entry with Unknown severity, no pid, and the whole line as the message.
package logcat

import (
	"fmt"
	"strconv"
	"strings"
)

// NoPID marks an entry that carries no process id.
const NoPID = -1

// Severity is the logcat priority of an entry.
type Severity int

const (
	Unknown Severity = iota
	Verbose
	Debug
	Info
	Warn
	Error
	Fatal
)

var severityLetters = [...]byte{Unknown: '?', Verbose: 'V', Debug: 'D', Info: 'I', Warn: 'W', Error: 'E', Fatal: 'F'}

// ParseSeverity maps a logcat tag character to a Severity.
func ParseSeverity(c byte) Severity {
	switch c {
	case 'V':
		return Verbose
	case 'D':
		return Debug
	case 'I':
		return Info
	case 'W':
		return Warn
	case 'E':
		return Error
	case 'F', 'A':
		return Fatal
	default:
		return Unknown
	}
}

// Letter returns the logcat tag character, '?' for Unknown.
func (s Severity) Letter() byte {
	if s < Unknown || s > Fatal {
		return '?'
	}
	return severityLetters[s]
}

func (s Severity) String() string {
	switch s {
	case Verbose:
		return "verbose"
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// UseErrorStream reports whether messages of this severity belong on the
// error stream when mirrored locally.
func (s Severity) UseErrorStream() bool {
	return s == Warn || s == Error || s == Fatal
}

// Entry is one parsed logcat line.
type Entry struct {
	Severity Severity
	Tag      string
	PID      int
	Message  string
}

// HasPID reports whether the entry carried a process id.
func (e Entry) HasPID() bool {
	return e.PID != NoPID
}

// String formats the entry back into brief format. Entries without a
// recognised shape are returned as their bare message.
func (e Entry) String() string {
	if e.Severity == Unknown && e.PID == NoPID {
		return e.Message
	}
	return fmt.Sprintf("%c/%s(%5d): %s", e.Severity.Letter(), e.Tag, e.PID, e.Message)
}

// Parse turns one raw logcat line into an Entry. It accepts any input.
func Parse(line string) Entry {
	e, ok := parseBrief(line)
	if !ok {
		return Entry{Severity: Unknown, PID: NoPID, Message: line}
	}
	return e
}

func parseBrief(line string) (Entry, bool) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 2 || line[1] != '/' {
		return Entry{}, false
	}
	sev := ParseSeverity(line[0])
	if sev == Unknown {
		return Entry{}, false
	}

	rest := line[2:]
	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return Entry{}, false
	}
	closing := strings.Index(rest[open:], "):")
	if closing < 0 {
		return Entry{}, false
	}
	closing += open

	pid, err := strconv.Atoi(strings.TrimSpace(rest[open+1 : closing]))
	if err != nil || pid < 0 {
		return Entry{}, false
	}

	msg := rest[closing+2:]
	msg = strings.TrimPrefix(msg, " ")

	return Entry{
		Severity: sev,
		Tag:      strings.TrimSpace(rest[:open]),
		PID:      pid,
		Message:  msg,
	}, true
}
