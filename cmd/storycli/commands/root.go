package commands

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var serverURL string

var (
	stageStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	handoffStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
)

var rootCmd = &cobra.Command{
	Use:   "storycli",
	Short: "Terminal client for the storygen pipeline",
	Long: `storycli - watch a storygen pipeline run from the terminal.

The server turns raw product text into structured user stories through
five sequential agents, streaming progress over SSE. storycli consumes
that stream and replays it at a readable pace.

Examples:
  storycli run "Build a todo app with login and reminders"
  storycli run --context "mobile-first, offline support" "Build a todo app"
  storycli stages`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "storygen server base URL")
}
