package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/aldrin/coursedesk/internal/config"
	"github.com/aldrin/coursedesk/internal/logger"
	"github.com/aldrin/coursedesk/pkg/agent"
	"github.com/aldrin/coursedesk/pkg/catalog"
	"github.com/aldrin/coursedesk/pkg/coursetools"
	"github.com/aldrin/coursedesk/pkg/memory"
	"github.com/aldrin/coursedesk/pkg/routing"
	"github.com/aldrin/coursedesk/pkg/session"
	"github.com/aldrin/coursedesk/pkg/team"
	"github.com/aldrin/coursedesk/pkg/toolexec"
)

// app wires the full runtime: config, logging, tools, knowledge base,
// runner, tracker and dispatcher.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	catalog    *catalog.Catalog
	executor   *toolexec.Executor
	runner     *agent.Runner
	tracker    *team.Tracker
	dispatcher *team.Dispatcher
	sessions   *session.Manager
	knowledge  *memory.Store
	prompts    *config.PromptWatcher
}

// newApp boots the runtime. consoleLogs controls whether logs also go
// to stdout; the chat REPL keeps stdout for the conversation.
func newApp(consoleLogs bool) (*app, error) {
	// A .env next to the binary is optional
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   consoleLogs,
		Pretty:    consoleLogs,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	zlog := log.GetZerolog()

	profiles := authProfiles(cfg)
	if len(profiles) == 0 {
		log.Close()
		return nil, fmt.Errorf("no API credentials: configure ai.profiles or set OPENAI_API_KEY / ANTHROPIC_API_KEY")
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		catalog: catalog.New(),
	}

	a.executor = toolexec.New()

	a.knowledge = openKnowledgeBase(cfg, profiles, zlog)

	var faq coursetools.FAQSearcher
	if a.knowledge != nil {
		faq = a.knowledge
	}
	if err := coursetools.Register(a.executor, coursetools.Options{FAQ: faq}); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	a.runner, err = agent.NewRunner(agent.RunnerConfig{
		Executor:     a.executor,
		Logger:       zlog,
		AuthProfiles: profiles,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	a.tracker, err = team.NewTracker(team.TrackerConfig{
		RegistryPath: filepath.Join(cfg.DataDir, "runs.json"),
		AutoSave:     true,
		Logger:       zlog,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create run tracker: %w", err)
	}
	if err := a.tracker.Load(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load run registry: %w", err)
	}

	var router *routing.Router
	if cfg.Routing.Enabled {
		router, err = routing.New(routing.Config{
			Routes: routing.DefaultRoutes(),
			Logger: zlog,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create router: %w", err)
		}
	}

	a.dispatcher, err = team.NewDispatcher(team.DispatcherConfig{
		Runner:   a.runner,
		Executor: a.executor,
		Tracker:  a.tracker,
		Router:   router,
		Logger:   zlog,
		Agents:   agentDefinitions(cfg),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	a.sessions, err = session.NewManager(cfg.Sessions.Dir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	if err := a.startPromptWatcher(zlog); err != nil {
		zlog.Warn().Err(err).Msg("Prompt hot-reload disabled")
	}

	return a, nil
}

// Close releases everything the app opened.
func (a *app) Close() {
	if a.prompts != nil {
		_ = a.prompts.Close()
	}
	if a.tracker != nil {
		_ = a.tracker.Close()
	}
	if a.knowledge != nil {
		_ = a.knowledge.Close()
	}
	if a.log != nil {
		_ = a.log.Close()
	}
}

// authProfiles merges configured profiles with environment API keys.
func authProfiles(cfg *config.Config) []agent.AuthProfile {
	profiles := make([]agent.AuthProfile, 0, len(cfg.AI.Profiles)+2)
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}

	if len(profiles) == 0 {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			profiles = append(profiles, agent.AuthProfile{
				ID:       "env-openai",
				Provider: "openai",
				APIKey:   key,
				Priority: 1,
			})
		}
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			profiles = append(profiles, agent.AuthProfile{
				ID:       "env-anthropic",
				Provider: "anthropic",
				APIKey:   key,
				Priority: 2,
			})
		}
	}

	return profiles
}

// agentDefinitions applies config defaults and per-agent overrides to
// the built-in team.
func agentDefinitions(cfg *config.Config) map[string]team.Definition {
	defs := team.Definitions()

	overrides := make(map[string]config.AgentConfig, len(cfg.Agents))
	for _, o := range cfg.Agents {
		overrides[o.ID] = o
	}

	for id, def := range defs {
		if cfg.Models.Default != "" {
			def.Config.Model = cfg.Models.Default
		}
		if cfg.Models.Temperature > 0 {
			def.Config.Temperature = cfg.Models.Temperature
		}
		if cfg.Models.MaxTokens > 0 {
			def.Config.MaxTokens = cfg.Models.MaxTokens
		}

		if o, ok := overrides[id]; ok {
			if o.Model != "" {
				def.Config.Model = o.Model
			}
			if o.Temperature > 0 {
				def.Config.Temperature = o.Temperature
			}
			if o.MaxTokens > 0 {
				def.Config.MaxTokens = o.MaxTokens
			}
			if o.SystemPrompt != "" {
				def.Config.SystemPrompt = o.SystemPrompt
			}
		}

		defs[id] = def
	}

	return defs
}

// openKnowledgeBase opens the FAQ store when knowledge documents exist.
// An OpenAI profile enables vector search, otherwise keyword only.
func openKnowledgeBase(cfg *config.Config, profiles []agent.AuthProfile, zlog zerolog.Logger) *memory.Store {
	entries, err := os.ReadDir(cfg.KnowledgeDir)
	if err != nil || len(entries) == 0 {
		return nil
	}

	var embedder memory.EmbeddingProvider
	for _, p := range profiles {
		if p.Provider == "openai" {
			embedder = memory.NewOpenAIEmbedder(p.APIKey, "text-embedding-3-small")
			break
		}
	}

	store, err := memory.NewStore(memory.Config{
		DocsDir:  cfg.KnowledgeDir,
		DBPath:   filepath.Join(cfg.DataDir, "knowledge.db"),
		Logger:   zlog,
		Embedder: embedder,
	})
	if err != nil {
		zlog.Warn().Err(err).Msg("Knowledge base unavailable, search_faq disabled")
		return nil
	}

	return store
}

func (a *app) startPromptWatcher(zlog zerolog.Logger) error {
	watcher, err := config.NewPromptWatcher(a.cfg.PromptDir, zlog)
	if err != nil {
		return err
	}

	watcher.OnChange(func(agentID, prompt string) {
		if err := a.dispatcher.SetAgentPrompt(agentID, prompt); err != nil {
			zlog.Debug().Err(err).Str("agent", agentID).Msg("Ignoring prompt file")
		}
	})

	if err := watcher.Start(); err != nil {
		_ = watcher.Close()
		return err
	}

	for agentID, prompt := range watcher.Overrides() {
		if err := a.dispatcher.SetAgentPrompt(agentID, prompt); err != nil {
			zlog.Debug().Err(err).Str("agent", agentID).Msg("Ignoring prompt file")
		}
	}

	a.prompts = watcher
	return nil
}

// startArchiver wires idle-session archival and the retention cron.
// Used by long-running commands only.
func (a *app) startArchiver() (*session.Archiver, *session.Cleanup, error) {
	archiver, err := session.NewArchiver(session.ArchiverConfig{
		Manager:     a.sessions,
		DBPath:      a.cfg.Sessions.ArchiveDB,
		IdleTimeout: time.Duration(a.cfg.Sessions.IdleTimeoutMinutes) * time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create archiver: %w", err)
	}
	if err := archiver.Start(); err != nil {
		archiver.Close()
		return nil, nil, fmt.Errorf("failed to start archiver: %w", err)
	}

	cleanup, err := session.NewCleanup(session.CleanupConfig{
		Archiver:  archiver,
		Retention: time.Duration(a.cfg.Sessions.RetentionDays) * 24 * time.Hour,
		Schedule:  a.cfg.Sessions.CleanupSchedule,
	})
	if err != nil {
		_ = archiver.Stop()
		archiver.Close()
		return nil, nil, fmt.Errorf("failed to create cleanup job: %w", err)
	}
	if err := cleanup.Start(); err != nil {
		_ = archiver.Stop()
		archiver.Close()
		return nil, nil, fmt.Errorf("failed to start cleanup job: %w", err)
	}

	return archiver, cleanup, nil
}
