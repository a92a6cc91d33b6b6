package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prompt2story/storygen/domain"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List the pipeline stages",
	Run: func(cmd *cobra.Command, args []string) {
		for _, st := range domain.DefaultStages() {
			criticality := dimStyle.Render("optional")
			if st.Critical {
				criticality = errStyle.Render("critical")
			}
			fmt.Printf("%d. %s %s\n", st.Index+1, stageStyle.Render(st.Title), criticality)
			fmt.Printf("   %s\n", dimStyle.Render(st.Tagline))
			fmt.Printf("   %s\n", dimStyle.Render(fmt.Sprintf("timeout ceiling %s, max tokens %d", st.TimeoutCeiling, st.MaxTokens)))
		}
	},
}

func init() {
	rootCmd.AddCommand(stagesCmd)
}
