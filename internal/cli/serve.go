package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aldrin/coursedesk/pkg/gateway"
	"github.com/aldrin/coursedesk/pkg/session"
	"github.com/aldrin/coursedesk/pkg/state"
	"github.com/aldrin/coursedesk/pkg/team"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat dispatcher over WebSocket",
	Long: `Start the WebSocket chat gateway. Each connected client speaks a
small JSON frame protocol; every chat frame runs one dispatcher turn and
returns the reply plus a session state snapshot.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gateway port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.Gateway.Port
	if servePort > 0 {
		port = servePort
	}
	if port <= 0 {
		return fmt.Errorf("no gateway port configured")
	}

	archiver, cleanup, err := a.startArchiver()
	if err != nil {
		return err
	}
	defer func() {
		cleanup.Stop()
		_ = archiver.Stop()
		archiver.Close()
	}()

	turns := newTurnRunner(a)
	server, err := gateway.NewServer(gateway.Config{
		Port:           port,
		TurnHandler:    turns.handle,
		AllowedOrigins: a.cfg.Gateway.AllowedOrigins,
		Logger:         a.log.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	return server.Stop()
}

// turnRunner holds one state store per session for gateway clients.
type turnRunner struct {
	app    *app
	mu     sync.Mutex
	states map[string]*state.Store
}

func newTurnRunner(a *app) *turnRunner {
	return &turnRunner{
		app:    a,
		states: make(map[string]*state.Store),
	}
}

func (tr *turnRunner) stateFor(sessionKey string) *state.Store {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	st, ok := tr.states[sessionKey]
	if !ok {
		st = state.New(state.Config{Logger: tr.app.log.GetZerolog()})
		tr.states[sessionKey] = st
	}
	return st
}

func (tr *turnRunner) handle(ctx context.Context, sessionKey, text string) (gateway.TurnReply, error) {
	st := tr.stateFor(sessionKey)

	st.AppendHistory("user", text)
	_ = tr.app.sessions.AppendMessage(sessionKey, session.Message{
		Role:      "user",
		Content:   text,
		Timestamp: time.Now(),
	})

	result, err := tr.app.dispatcher.Dispatch(ctx, team.DispatchParams{
		SessionKey: sessionKey,
		Message:    text,
		History:    historyMessages(st),
		State:      st,
		Catalog:    tr.app.catalog,
	})
	if err != nil {
		return gateway.TurnReply{}, err
	}

	st.AppendHistory("assistant", result.Response)
	_ = tr.app.sessions.AppendMessage(sessionKey, session.Message{
		Role:      "assistant",
		Content:   result.Response,
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"agent": result.AgentID},
	})

	snap := st.Snapshot()
	return gateway.TurnReply{
		AgentID: result.AgentID,
		Text:    result.Response,
		State:   &snap,
	}, nil
}
