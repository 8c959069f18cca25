package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aldrin/coursedesk/pkg/agent"
	"github.com/aldrin/coursedesk/pkg/session"
	"github.com/aldrin/coursedesk/pkg/state"
	"github.com/aldrin/coursedesk/pkg/team"
)

var (
	chatSessionKey string
	chatUserName   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive customer-service session",
	Long: `Start an interactive chat session on stdin. The session state
(user name, purchased courses, interaction history) is printed before
and after every turn. Type "exit" or "quit" to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionKey, "session", "local", "session key for this conversation")
	chatCmd.Flags().StringVar(&chatUserName, "name", "", "customer name")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	st := state.New(state.Config{Logger: a.log.GetZerolog()})
	if chatUserName != "" {
		st.SetUserName(chatUserName)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "CourseDesk customer service. Type 'exit' or 'quit' to leave.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		printState(out, "state before turn", st.Snapshot())
		fmt.Fprint(out, "\nyou> ")

		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(out, "Goodbye!")
			break
		}

		reply, err := runTurn(cmd.Context(), a, st, chatSessionKey, input)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		fmt.Fprintf(out, "\n[%s]> %s\n\n", reply.AgentID, reply.Response)
		printState(out, "state after turn", st.Snapshot())
		fmt.Fprintln(out)
	}

	return scanner.Err()
}

// runTurn executes one dispatcher turn and records both sides of the
// exchange in the session state and the transcript.
func runTurn(ctx context.Context, a *app, st *state.Store, sessionKey, input string) (*team.DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	st.AppendHistory("user", input)
	_ = a.sessions.AppendMessage(sessionKey, session.Message{
		Role:      "user",
		Content:   input,
		Timestamp: time.Now(),
	})

	result, err := a.dispatcher.Dispatch(ctx, team.DispatchParams{
		SessionKey: sessionKey,
		Message:    input,
		History:    historyMessages(st),
		State:      st,
		Catalog:    a.catalog,
	})
	if err != nil {
		return nil, err
	}

	st.AppendHistory("assistant", result.Response)
	_ = a.sessions.AppendMessage(sessionKey, session.Message{
		Role:      "assistant",
		Content:   result.Response,
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"agent": result.AgentID},
	})

	return &result, nil
}

// maxHistoryMessages bounds the history forwarded to the model; older
// turns fall off so long sessions do not inflate the prompt.
const maxHistoryMessages = 20

// historyMessages converts the interaction history into model messages,
// excluding the just-appended user turn which goes in as the prompt.
func historyMessages(st *state.Store) []agent.Message {
	entries := st.History()
	if len(entries) > 0 && entries[len(entries)-1].Role == "user" {
		entries = entries[:len(entries)-1]
	}
	if len(entries) > maxHistoryMessages {
		entries = entries[len(entries)-maxHistoryMessages:]
	}

	messages := make([]agent.Message, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, agent.Message{
			Role:    e.Role,
			Content: e.Message,
		})
	}
	return messages
}

// printState renders the session state the way the platform's
// operators read it: name, owned courses, recent history.
func printState(w io.Writer, label string, snap state.Snapshot) {
	fmt.Fprintf(w, "--- %s ---\n", label)
	fmt.Fprintf(w, "user: %s\n", snap.UserName)

	if len(snap.PurchasedCourses) == 0 {
		fmt.Fprintln(w, "courses: none")
	} else {
		fmt.Fprintln(w, "courses:")
		for _, c := range snap.PurchasedCourses {
			fmt.Fprintf(w, "  - %s (purchased %s)\n", c.ID, c.PurchaseDate.Format("2006-01-02"))
		}
	}

	history := snap.InteractionHistory
	if len(history) == 0 {
		fmt.Fprintln(w, "history: empty")
		return
	}
	const tail = 5
	if len(history) > tail {
		fmt.Fprintf(w, "history (last %d of %d):\n", tail, len(history))
		history = history[len(history)-tail:]
	} else {
		fmt.Fprintln(w, "history:")
	}
	for _, entry := range history {
		fmt.Fprintf(w, "  [%s] %s: %s\n", entry.Timestamp.Format("15:04:05"), entry.Role, entry.Message)
	}
}
