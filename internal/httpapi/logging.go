package httpapi

import (
	"bytes"
	"net/http"
	"os"

	"github.com/rs/zerolog"
)

// zlog is the structured logger for the HTTP layer. Handlers that log must
// tolerate it being nil (nothing installed yet).
var zlog *zerolog.Logger

// SetLogger installs the structured logger used by request handlers.
func SetLogger(l zerolog.Logger) { zlog = &l }

// loggingLineWriter tees an NDJSON stream into the log, one entry per
// complete line. Partial lines stay buffered until their newline arrives.
type loggingLineWriter struct {
	buf []byte
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			return len(p), nil
		}
		if line := lw.buf[:idx]; len(line) > 0 && zlog != nil {
			zlog.Debug().Str("line", string(line)).Msg("generate stream")
		}
		lw.buf = lw.buf[idx+1:]
	}
}

// LogLevel selects how chatty a single request's logging is. The daemon
// default comes from INFERD_LOG_LEVEL; a request can raise or lower it.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	}
	// Unrecognized values land on info rather than silently going dark.
	return LevelInfo
}

var defaultLogLevel = parseLevel(os.Getenv("INFERD_LOG_LEVEL"))

// requestLogLevel resolves the level for one request: the ?log= query
// parameter wins (log=1 is shorthand for debug), then the X-Log-Level
// header, then the daemon default.
func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}
