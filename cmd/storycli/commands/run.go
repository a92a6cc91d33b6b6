package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/prompt2story/storygen/client/playback"
	"github.com/prompt2story/storygen/client/state"
	"github.com/prompt2story/storygen/client/stream"
	"github.com/prompt2story/storygen/domain"
)

var (
	runContext  string
	runBudgetMs int64
)

var runCmd = &cobra.Command{
	Use:   "run [description]",
	Short: "Run the pipeline against a server and watch it live",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runContext, "context", "", "additional context sent with the request")
	runCmd.Flags().Int64Var(&runBudgetMs, "budget-ms", 120000, "server pipeline budget shown against elapsed time")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	req := &domain.GenerateRequest{
		Description: strings.Join(args, " "),
		Context:     runContext,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	stages := domain.DefaultStages()
	order := make([]domain.StageRole, len(stages))
	titles := make(map[domain.StageRole]string, len(stages))
	for i, st := range stages {
		order[i] = st.Role
		titles[st.Role] = st.Title
	}

	var (
		mu       sync.Mutex
		snapshot = state.NewState(order)
		finished sync.Once
		done     = make(chan struct{})
	)
	queue := playback.NewQueue(func(a state.Action) {
		mu.Lock()
		prev := snapshot
		snapshot = state.Reduce(snapshot, a)
		render(prev, snapshot, a, titles)
		terminal := snapshot.Status == state.PipelineComplete || snapshot.Status == state.PipelineError
		mu.Unlock()
		if terminal {
			finished.Do(func() { close(done) })
		}
	})
	queue.Enqueue(state.Action{Type: state.ActionRunStarted, NowMs: time.Now().UnixMilli(), BudgetMs: runBudgetMs})

	reader := stream.NewReader(serverURL)

	// Ctrl-C aborts the network read immediately, bypassing playback.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			reader.Abort()
		case <-done:
		}
	}()

	err := reader.Run(cmd.Context(), req, func(ev domain.Event) {
		queue.Enqueue(state.EventAction(ev))
	})
	if errors.Is(err, context.Canceled) {
		queue.Stop()
		mu.Lock()
		snapshot = state.Reduce(snapshot, state.Action{Type: state.ActionAbort})
		mu.Unlock()
		finished.Do(func() { close(done) })
		fmt.Println()
		fmt.Println(errStyle.Render("run aborted"))
		return nil
	}
	if err != nil {
		queue.Stop()
		finished.Do(func() { close(done) })
		return err
	}

	// The socket closed; let playback pace out whatever is still queued.
	select {
	case <-done:
	case <-time.After(30 * time.Second):
	}
	return nil
}

func render(prev, next state.State, a state.Action, titles map[domain.StageRole]string) {
	role := a.Event.AgentRole
	switch a.Type {
	case state.ActionType(domain.EventAgentStatus):
		pv, nv := prev.Stages[role], next.Stages[role]
		if pv.Status == nv.Status {
			return
		}
		switch nv.Status {
		case domain.StageThinking:
			fmt.Printf("\n%s %s\n", stageStyle.Render("> "+titles[role]), dimStyle.Render("("+string(role)+")"))
		case domain.StageSkipped:
			fmt.Printf("\n%s\n", dimStyle.Render("- "+titles[role]+" skipped"))
		case domain.StageError:
			fmt.Printf("\n%s %s\n", errStyle.Render("x "+titles[role]+" failed"), dimStyle.Render(nv.Error))
		}
	case state.ActionType(domain.EventAgentChunk):
		var data domain.AgentChunkData
		if a.Event.DecodeData(&data) == nil {
			fmt.Print(data.Text)
		}
	case state.ActionType(domain.EventAgentComplete):
		nv := next.Stages[role]
		fmt.Printf("\n%s\n", okStyle.Render(fmt.Sprintf("+ %s done in %dms", titles[role], nv.DurationMs)))
	case state.ActionType(domain.EventHandoff):
		fmt.Println(handoffStyle.Render("  " + next.LastHandoff()))
	case state.ActionType(domain.EventPipelineDone):
		fmt.Printf("\n%s %s\n\n", okStyle.Render("Pipeline complete"), dimStyle.Render(fmt.Sprintf("(%dms)", next.ElapsedMs)))
		for _, s := range next.Summaries {
			fmt.Printf("  %-12s %-9s %6dms\n", s.Agent, s.Status, s.DurationMs)
		}
		if len(next.FinalOutput) > 0 {
			var pretty bytes.Buffer
			if json.Indent(&pretty, next.FinalOutput, "", "  ") == nil {
				fmt.Println()
				fmt.Println(pretty.String())
			}
		}
	case state.ActionType(domain.EventPipelineError):
		fmt.Printf("\n%s %s\n", errStyle.Render("Pipeline failed:"), next.Error)
	}
}
