package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/hushling/internal/app"
	"github.com/MrWong99/hushling/internal/config"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#7D56F4") // night-light violet
	accentColor  = lipgloss.Color("#F5A623")
	okColor      = lipgloss.Color("#3FB950")
	playColor    = lipgloss.Color("#58A6FF")
	mutedColor   = lipgloss.Color("#888888")
	textColor    = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	descStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Italic(true)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			MarginTop(1)

	flagStyle = lipgloss.NewStyle().
			Foreground(okColor).
			Bold(true)

	defaultStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#E5534B"))

	keyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)
)

// stateStyles color the automation state by kind.
var stateStyles = map[string]lipgloss.Style{
	"stopped":        lipgloss.NewStyle().Bold(true).Foreground(mutedColor),
	"listening":      lipgloss.NewStyle().Bold(true).Foreground(okColor),
	"crying_pending": lipgloss.NewStyle().Bold(true).Foreground(accentColor),
	"playing":        lipgloss.NewStyle().Bold(true).Foreground(playColor),
	"fading_out":     lipgloss.NewStyle().Bold(true).Foreground(playColor),
}

func row(key, value string) string {
	return keyStyle.Render(key) + valueStyle.Render(value)
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("Error:"), err)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, path string) {
	classifierName := cfg.Classifier.Backend
	if fb := cfg.Classifier.Fallback; fb != "" && fb != classifierName {
		classifierName += " → " + fb
	}
	capture := cfg.Audio.Capture.Name
	if cfg.Audio.Capture.Name == config.CaptureReader {
		capture += " (" + cfg.Audio.Capture.Path + ")"
	} else if d := cfg.Audio.Capture.Device; d != "" {
		capture += " (" + d + ")"
	}
	output := cfg.Audio.Output.Name
	if d := cfg.Audio.Output.Device; d != "" && cfg.Audio.Output.Name == config.OutputAplay {
		output += " (" + d + ")"
	}
	supervisor := "disabled"
	if cfg.Supervisor.Enabled {
		supervisor = fmt.Sprintf("restart after %s, max %s", cfg.Supervisor.InitialBackoff, cfg.Supervisor.MaxBackoff)
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("hushling")+" "+descStyle.Render("startup summary"),
		"",
		row("Config", path),
		row("Listen addr", cfg.Server.ListenAddr),
		row("Capture", capture),
		row("Output", output),
		row("Classifier", classifierName),
		row("Track", cfg.Automation.Track),
		row("Volume", fmt.Sprintf("%.0f%%", cfg.Automation.TargetVolume*100)),
		row("Loops", fmt.Sprintf("%d × fade %s/%s", cfg.Automation.LoopCount, cfg.Automation.FadeIn, cfg.Automation.FadeOut)),
		row("Supervisor", supervisor),
	)
	fmt.Fprintln(w, boxStyle.Render(body))
}

// ── Status ────────────────────────────────────────────────────────────────────

func printStatus(w io.Writer, st app.Status) {
	style, ok := stateStyles[st.Kind]
	if !ok {
		style = valueStyle
	}
	lines := []string{
		keyStyle.Render("State") + style.Render(st.State),
		row("Volume", fmt.Sprintf("%.0f%%", st.Volume*100)),
		row("Track", st.Track),
	}
	if st.CycleID != "" {
		lines = append(lines, row("Cycle", st.CycleID))
	}
	recording := "none"
	switch {
	case st.Recording:
		recording = "recording…"
	case st.Previewing:
		recording = "previewing…"
	case st.HasRecording:
		recording = "available"
	}
	lines = append(lines, row("Recording", recording))
	fmt.Fprintln(w, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
}

// ── Help ──────────────────────────────────────────────────────────────────────

// styledHelpPrinter renders kong help with lipgloss styling.
func styledHelpPrinter(_ kong.HelpOptions, ctx *kong.Context) error {
	var sb strings.Builder

	node := ctx.Selected()
	if node == nil {
		node = ctx.Model.Node
	}

	sb.WriteString(titleStyle.Render("hushling"))
	sb.WriteString("\n")
	help := ctx.Model.Help
	if node != ctx.Model.Node && node.Help != "" {
		help = node.Help
	}
	sb.WriteString(descStyle.Render(help))
	sb.WriteString("\n")

	sb.WriteString(sectionStyle.Render("Usage:"))
	sb.WriteString("\n  ")
	sb.WriteString(node.Path())
	if len(node.Children) > 0 {
		sb.WriteString(" <command>")
	}
	sb.WriteString(" [flags]\n")

	var cmds []*kong.Node
	for _, c := range node.Children {
		if !c.Hidden {
			cmds = append(cmds, c)
		}
	}
	if len(cmds) > 0 {
		sb.WriteString(sectionStyle.Render("Commands:"))
		sb.WriteString("\n")
		for _, c := range cmds {
			sb.WriteString("  ")
			sb.WriteString(flagStyle.Render(fmt.Sprintf("%-10s", c.Name)))
			sb.WriteString("  ")
			sb.WriteString(c.Help)
			sb.WriteString("\n")
		}
	}

	sb.WriteString(sectionStyle.Render("Flags:"))
	sb.WriteString("\n")
	sb.WriteString("  " + flagStyle.Render("-h, --help") + "  Show context-sensitive help.\n")
	for n := node; n != nil; n = n.Parent {
		for _, f := range n.Flags {
			if f.Name == "help" || f.Hidden {
				continue
			}
			name := "--" + f.Name
			if f.Short != 0 {
				name = fmt.Sprintf("-%c, --%s", f.Short, f.Name)
			}
			if !f.IsBool() {
				name += "=" + strings.ToUpper(f.FormatPlaceHolder())
			}
			sb.WriteString("  ")
			sb.WriteString(flagStyle.Render(name))
			if f.Help != "" {
				sb.WriteString("  ")
				sb.WriteString(f.Help)
			}
			if f.Default != "" {
				sb.WriteString(" ")
				sb.WriteString(defaultStyle.Render("(default: " + f.Default + ")"))
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	fmt.Fprint(ctx.Stdout, sb.String())
	return nil
}
