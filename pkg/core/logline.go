package core

// Stream names for LogLine.Stream.
const (
	StreamMain   = "main"   // logcat stdout, parsed by the pipeline
	StreamStderr = "stderr" // logcat stderr, passed through untouched
)

// LogLine represents a single raw line from a device log source.
type LogLine struct {
	Serial   string `json:"serial"`
	TsUnixMs int64  `json:"ts_unix_ms"`
	Stream   string `json:"stream"`
	Line     string `json:"line"`
}
