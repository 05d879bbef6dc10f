package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leaplineage/internal/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envVars lists the most used environment overrides. Any config key can be
// set as LEAPLINEAGE_<KEY>, with "__" separating nested keys.
var envVars = [][]string{
	{"LEAPLINEAGE_LOG_LEVEL", "Log level (debug, info, warn, error)"},
	{"LEAPLINEAGE_OUTPUT", "Output format (auto, text, json)"},
	{"LEAPLINEAGE_STORE__BACKEND", "Graph store backend (file, sqlite, postgres, neo4j)"},
	{"LEAPLINEAGE_STORE__DSN", "Connection string for the sqlite or postgres store"},
	{"LEAPLINEAGE_SIGNING__SECRET", "HMAC key used to sign edges and snapshots"},
	{"LEAPLINEAGE_CURATION__REQUIRED_ROLE", "Role allowed to propose and approve edges"},
	{"LEAPLINEAGE_SERVER__ADDR", "Listen address for serve"},
	{"LEAPLINEAGE_SERVER__JWT_SECRET", "HS256 key; when set the role comes from the bearer token"},
}

// generateCLIDocs writes index.md plus one page per top-level command.
func generateCLIDocs(outDir string) error {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	root := cli.NewRootCmd()
	pages := map[string][]byte{"index.md": cliIndex(root)}
	for _, cmd := range documentedCommands(root) {
		pages[cmd.Name()+".md"] = commandPage(cmd)
	}

	for name, data := range pages {
		if err := os.WriteFile(filepath.Join(outDir, name), data, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	log.Printf("Generated %d CLI pages in %s", len(pages), outDir)
	return nil
}

// documentedCommands returns the visible top-level commands.
func documentedCommands(root *cobra.Command) []*cobra.Command {
	var out []*cobra.Command
	for _, cmd := range root.Commands() {
		if cmd.Hidden || cmd.Name() == "help" || cmd.Name() == "__complete" {
			continue
		}
		out = append(out, cmd)
	}
	return out
}

func cliIndex(root *cobra.Command) []byte {
	w := NewMarkdownWriter()
	w.Frontmatter("CLI Reference", "Command-line interface reference for leaplineage")
	w.GeneratedMarker()

	w.Header(1, "CLI Reference")
	w.Paragraph(root.Long)

	rows := make([][]string, 0, len(root.Commands()))
	for _, cmd := range documentedCommands(root) {
		link := fmt.Sprintf("[%s](/cli/%s)", InlineCode(cmd.Name()), cmd.Name())
		rows = append(rows, []string{link, cleanDescription(cmd.Short)})
	}
	w.Header(2, "Commands")
	w.Table([]string{"Command", "Description"}, rows)

	w.Header(2, "Global Options")
	writeFlagsTable(w, root.PersistentFlags())

	w.Header(2, "Configuration")
	w.Paragraph("Settings are read from `leaplineage.yaml` (searched upward from the working directory), " +
		"then environment variables, then flags. Later layers win.")
	envRows := make([][]string, 0, len(envVars))
	for _, v := range envVars {
		envRows = append(envRows, []string{InlineCode(v[0]), v[1]})
	}
	w.Table([]string{"Variable", "Description"}, envRows)

	return w.Bytes()
}

// commandPage documents cmd, with one section per visible subcommand.
func commandPage(cmd *cobra.Command) []byte {
	w := NewMarkdownWriter()
	w.Frontmatter(cmd.Name(), cmd.Short)
	w.GeneratedMarker()

	w.Header(1, cmd.Name())
	writeCommandBody(w, cmd, 2)
	for _, sub := range cmd.Commands() {
		if sub.Hidden {
			continue
		}
		w.Header(2, sub.Name())
		writeCommandBody(w, sub, 3)
	}
	return w.Bytes()
}

func writeCommandBody(w *MarkdownWriter, cmd *cobra.Command, level int) {
	desc := cmd.Long
	if desc == "" {
		desc = cmd.Short
	}
	w.Paragraph(desc)

	use := cmd.UseLine()
	if cmd.HasSubCommands() {
		use = cmd.CommandPath() + " <subcommand> [flags]"
	}
	w.Header(level, "Usage")
	w.CodeBlock("bash", use)

	if cmd.HasLocalFlags() {
		w.Header(level, "Options")
		writeFlagsTable(w, cmd.LocalFlags())
	}
	if cmd.Example != "" {
		w.Header(level, "Examples")
		w.CodeBlock("bash", cleanExample(cmd.Example))
	}
}

// writeFlagsTable writes one row per visible flag. String defaults are
// shown as code; empty defaults stay blank.
func writeFlagsTable(w *MarkdownWriter, flags *pflag.FlagSet) {
	var rows [][]string
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		short := ""
		if f.Shorthand != "" {
			short = "-" + f.Shorthand
		}
		def := f.DefValue
		if def != "" && f.Value.Type() == "string" {
			def = InlineCode(def)
		}
		rows = append(rows, []string{InlineCode("--" + f.Name), short, def, cleanDescription(f.Usage)})
	})
	w.Table([]string{"Option", "Short", "Default", "Description"}, rows)
}

// cleanExample strips the indentation shared by every non-blank line.
func cleanExample(example string) string {
	lines := strings.Split(example, "\n")
	indent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	if indent > 0 {
		for i, line := range lines {
			if len(line) >= indent {
				lines[i] = line[indent:]
			} else {
				lines[i] = strings.TrimLeft(line, " \t")
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
