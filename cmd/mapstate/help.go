package main

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"github.com/alfredjeanlab/mapstate/internal/ui"
	"github.com/spf13/cobra"
)

// helpRule styles every match of re in cobra's plain help text.
type helpRule struct {
	re    *regexp.Regexp
	style func(groups []string) string
}

var helpRules = []helpRule{
	// Section headers such as "Map states:" or "Flags:".
	{
		re:    regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`),
		style: func(g []string) string { return ui.RenderAccent(g[1]) },
	},
	// Subcommand names in the command listing.
	{
		re:    regexp.MustCompile(`(?m)^(  )([a-z][\w-]*)(  +)`),
		style: func(g []string) string { return g[1] + ui.RenderCommand(g[2]) + g[3] },
	},
	// Flag value types, e.g. "--url string".
	{
		re:    regexp.MustCompile(`(--[\w-]+ )(string|int|duration|stringSlice)\b`),
		style: func(g []string) string { return g[1] + ui.RenderMuted(g[2]) },
	},
	// Defaults, e.g. (default "http://localhost:8080").
	{
		re:    regexp.MustCompile(`\(default [^)]*\)`),
		style: func(g []string) string { return ui.RenderMuted(g[0]) },
	},
}

// colorizedHelpFunc returns a cobra help function that renders the default
// usage text and colors it when stdout supports ANSI colors.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if !ui.ShouldUseColor(os.Stdout) {
			ui.ForceNoColor()
		}
		orig := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(orig)

		text := buf.String()
		if cmd.Long != "" {
			text = cmd.Long + "\n\n" + text
		}
		fmt.Fprint(orig, colorizeHelpOutput(text))
	}
}

// colorizeHelpOutput applies helpRules in order. With color disabled the
// render functions return their input and the text is unchanged.
func colorizeHelpOutput(s string) string {
	for _, rule := range helpRules {
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			return rule.style(rule.re.FindStringSubmatch(match))
		})
	}
	return s
}
