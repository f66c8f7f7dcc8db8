package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/timvw/pane-conductor/internal/provider"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#7fd88f"))
	missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e06c75"))
	nameStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show which agent CLIs are installed",
	Long: `Show which agent CLIs are on the search path. Missing ones come with
an install hint; --verbose shows paths and hints for all of them.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagJSON {
			return printJSON(provider.NewRegistry().Availability())
		}
		for _, a := range provider.NewRegistry().Availability() {
			mark := okStyle.Render("✓")
			if !a.Installed {
				mark = missingStyle.Render("✗")
			}
			fmt.Printf("%s %s %s\n", mark, nameStyle.Render(fmt.Sprintf("%-12s", a.Type)), dimStyle.Render(a.Description))
			if a.Installed && flagVerbose {
				fmt.Printf("    %s\n", dimStyle.Render(a.Path))
			}
			if !a.Installed || flagVerbose {
				fmt.Printf("    install: %s\n", a.InstallHint)
				if a.DocsURL != "" {
					fmt.Printf("    docs:    %s\n", a.DocsURL)
				}
			}
		}
		return nil
	},
}

func init() {
	providersCmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON")
	rootCmd.AddCommand(providersCmd)
}
