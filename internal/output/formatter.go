package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/muesli/termenv"
)

// Formatter is the interface for CLI output formatting. Secret values
// never pass through a formatter; commands print rows of names and
// outcome kinds only.
type Formatter interface {
	Print(data any) error
	PrintRows(columns []Column, rows []map[string]string) error
	PrintError(err error)
	PrintHint(msg string)
}

// Column defines a column for table/list output.
type Column struct {
	Name  string // Display name
	Key   string // Row map key
	Width int    // Width for rich mode (0 = auto)
}

// New creates a formatter for the specified mode.
func New(mode string) Formatter {
	switch mode {
	case "json":
		return &jsonFormatter{}
	case "plain":
		return &plainFormatter{}
	case "rich":
		profile := termenv.ColorProfile()
		return &richFormatter{profile: profile}
	default:
		return &plainFormatter{}
	}
}

// jsonFormatter outputs JSON to stdout
type jsonFormatter struct{}

func (f *jsonFormatter) Print(data any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (f *jsonFormatter) PrintRows(columns []Column, rows []map[string]string) error {
	envelope := map[string]any{
		"data":  rows,
		"count": len(rows),
	}
	return f.Print(envelope)
}

func (f *jsonFormatter) PrintError(err error) {
	errObj := map[string]string{"error": err.Error()}
	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	enc.Encode(errObj)
}

func (f *jsonFormatter) PrintHint(msg string) {
	// Hints are human-facing; skip them in JSON mode.
}

// plainFormatter outputs tab-separated values
type plainFormatter struct{}

func (f *plainFormatter) Print(data any) error {
	fmt.Fprintf(os.Stdout, "%v\n", data)
	return nil
}

func (f *plainFormatter) PrintRows(columns []Column, rows []map[string]string) error {
	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = col.Name
	}
	fmt.Fprintf(os.Stdout, "%s\n", strings.Join(headers, "\t"))

	for _, row := range rows {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = row[col.Key]
		}
		fmt.Fprintf(os.Stdout, "%s\n", strings.Join(values, "\t"))
	}
	return nil
}

func (f *plainFormatter) PrintError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func (f *plainFormatter) PrintHint(msg string) {
	fmt.Fprintf(os.Stderr, "hint: %v\n", msg)
}

// richFormatter outputs styled content for terminals
type richFormatter struct {
	profile termenv.Profile
}

func (f *richFormatter) Print(data any) error {
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	fmt.Fprintf(os.Stdout, "%s\n", valueStyle.Render(fmt.Sprintf("%v", data)))
	return nil
}

func (f *richFormatter) PrintRows(columns []Column, rows []map[string]string) error {
	RenderTable(os.Stdout, columns, rows)
	return nil
}

func (f *richFormatter) PrintError(err error) {
	errorStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("9"))

	fmt.Fprintf(os.Stderr, "%s\n", errorStyle.Render("error: "+err.Error()))
}

func (f *richFormatter) PrintHint(msg string) {
	hintStyle := lipgloss.NewStyle().
		Faint(true).
		Foreground(lipgloss.Color("8"))

	fmt.Fprintf(os.Stderr, "%s\n", hintStyle.Render("hint: "+msg))
}
