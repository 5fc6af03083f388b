package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// NewOutputFormatter creates an OutputFormatter.
func NewOutputFormatter(format string, w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: format, Writer: w}
}

// IsJSON reports whether JSON output was requested.
func (f *OutputFormatter) IsJSON() bool {
	return f.Format == "json"
}

// JSON writes v as indented JSON.
func (f *OutputFormatter) JSON(v interface{}) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Printf writes formatted text.
func (f *OutputFormatter) Printf(format string, args ...interface{}) {
	fmt.Fprintf(f.Writer, format, args...)
}

// colorStatus renders an outbox status in its conventional color.
func colorStatus(s models.OutboxStatus) string {
	switch s {
	case models.StatusSynced:
		return color.New(color.FgGreen).Sprint(s)
	case models.StatusPending, models.StatusUploading:
		return color.New(color.FgCyan).Sprint(s)
	case models.StatusConflict:
		return color.New(color.FgYellow).Sprint(s)
	case models.StatusError:
		return color.New(color.FgRed).Sprint(s)
	}
	return string(s)
}

func colorConnectivity(c models.ConnectivityState) string {
	switch c {
	case models.ConnectivityOnline:
		return color.New(color.FgGreen).Sprint(c)
	case models.ConnectivitySyncing:
		return color.New(color.FgCyan).Sprint(c)
	}
	return color.New(color.FgRed).Sprint(c)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
