package util

import (
	"fmt"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/fatih/color"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	errColor   = color.New(color.FgRed, color.Bold)
	fieldColor = color.New(color.FgCyan)
)

// PrintResult prints one line per completion and returns the error of the
// first failed completion
func PrintResult(got []completion.Completion, describe func(c completion.Completion) string) error {
	var first error
	for _, c := range got {
		if !c.Status.OK() {
			fmt.Printf("%s %s\n", errColor.Sprint(c.Status.String()), c.Status.Strerror())
			if first == nil {
				first = c.Err()
			}
			continue
		}
		if line := describe(c); line != "" {
			fmt.Printf("%s %s\n", okColor.Sprint("OK"), line)
		}
	}
	if len(got) == 0 {
		return fmt.Errorf("no completion received")
	}
	return first
}

// Field formats a name value pair
func Field(name string, value any) string {
	return fmt.Sprintf("%s=%v", fieldColor.Sprint(name), value)
}
