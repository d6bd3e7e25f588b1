// ABOUTME: The init command: writes a starter config file from interactive prompts
// ABOUTME: Prompts read from the command's input so they can be scripted

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), getConfigPath())
		},
	}
}

// prompt asks a question and returns the trimmed answer or def when empty.
func prompt(r *bufio.Reader, w io.Writer, question, def string) string {
	if def != "" {
		fmt.Fprintf(w, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(w, "%s: ", question)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "y" || s == "yes"
}

func runInit(in io.Reader, out io.Writer, defaultPath string) error {
	reader := bufio.NewReader(in)
	cyan := color.New(color.FgCyan)

	cyan.Fprintln(out, "fluxer-bot configuration setup")
	fmt.Fprintln(out)

	path := prompt(reader, out, "Config file path", defaultPath)
	if _, err := os.Stat(path); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Fluxer ---")
	token := prompt(reader, out, "Bot token (leave empty to use ${FLUXER_TOKEN})", "")
	if token == "" {
		token = "${FLUXER_TOKEN}"
	}
	baseURL := prompt(reader, out, "API base URL", "https://api.fluxer.app")
	intents := prompt(reader, out, "Intents (comma separated)", "default,message_content")

	fmt.Fprintln(out, "\n--- Ledger ---")
	ledgerEnabled := yes(prompt(reader, out, "Journal raw events to SQLite?", "no"))
	ledgerPath := "fluxer-ledger.db"
	if ledgerEnabled {
		ledgerPath = prompt(reader, out, "Ledger database path", ledgerPath)
	}

	fmt.Fprintln(out, "\n--- Logging ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	var b strings.Builder
	b.WriteString("# fluxer-bot configuration\n\n")
	b.WriteString("fluxer:\n")
	fmt.Fprintf(&b, "  token: %q\n", token)
	fmt.Fprintf(&b, "  base_url: %q\n", baseURL)
	b.WriteString("  intents:\n")
	for _, name := range strings.Split(intents, ",") {
		if name = strings.TrimSpace(name); name != "" {
			fmt.Fprintf(&b, "    - %q\n", name)
		}
	}
	b.WriteString("\nledger:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", ledgerEnabled)
	fmt.Fprintf(&b, "  path: %q\n", ledgerPath)
	b.WriteString("\nlogging:\n")
	fmt.Fprintf(&b, "  level: %q\n", logLevel)
	fmt.Fprintf(&b, "  format: %q\n", logFormat)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	color.New(color.FgGreen).Fprint(out, "✓ ")
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}
