package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-isatty"
)

const (
	FormatAuto   = "auto"
	FormatText   = "text"
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

var ErrUnknownLogFormat = errors.New("unknown log format")

type fder interface {
	Fd() uintptr
}

// NewHandler returns a charm log handler writing to w. The "auto" format
// picks text on a terminal and logfmt otherwise.
func NewHandler(w io.Writer, level, format string) (slog.Handler, error) {
	var merr error

	lvl, err := log.ParseLevel(level)
	if err != nil {
		merr = multierror.Append(merr, fmt.Errorf("log level %q: %w", level, err))
	}
	formatter, err := parseFormat(w, format)
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	if merr != nil {
		return nil, merr
	}

	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.StampMicro,
	}), nil
}

func parseFormat(w io.Writer, format string) (log.Formatter, error) {
	switch strings.ToLower(format) {
	case FormatAuto, "":
		if f, ok := w.(fder); ok && isatty.IsTerminal(f.Fd()) {
			return log.TextFormatter, nil
		}
		return log.LogfmtFormatter, nil
	case FormatText:
		return log.TextFormatter, nil
	case FormatLogfmt:
		return log.LogfmtFormatter, nil
	case FormatJSON:
		return log.JSONFormatter, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLogFormat, format)
	}
}
