package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// printResult writes data as JSON, or text as a single line.
func printResult(w io.Writer, opts *RootOptions, data any, text string) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
