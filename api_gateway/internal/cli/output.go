package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// format resolves the effective output format for w.
func format(w io.Writer) string {
	if output != "" {
		return output
	}
	if f, ok := w.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return "json"
	}
	return "text"
}

// render writes v as json or yaml, or calls text for the text format.
func render(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	switch format(w) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(w)
		return nil
	}
}

// promptConfirm asks for confirmation on in. Returns true without prompting
// when skipConfirm is set; refuses when in is a non-interactive file.
func promptConfirm(in io.Reader, out io.Writer, prompt string, skipConfirm bool) bool {
	if skipConfirm {
		return true
	}
	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(out, "Refusing to prompt on non-interactive input; pass --yes to confirm.")
		return false
	}

	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && response == "" {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// encodeLine writes one streamed record: a compact json line, or a yaml
// document.
func encodeLine(w io.Writer, format string, v any) error {
	if format == "yaml" {
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return json.NewEncoder(w).Encode(v)
}
