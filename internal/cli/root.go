// Package cli implements the moderator command line tool: a local
// focus-group session driven by the same engine the API serves, with the
// transcript held in a plain JSON file between questions.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tomsuharto-git/irm-personas-api/internal/catalog"
	"github.com/tomsuharto-git/irm-personas-api/internal/config"
	"github.com/tomsuharto-git/irm-personas-api/internal/engine"
	"github.com/tomsuharto-git/irm-personas-api/internal/llm"
	"github.com/tomsuharto-git/irm-personas-api/internal/observability"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "moderator",
	Short: "Run focus-group sessions with simulated consumer personas",
	RunE:  runSession,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("moderator %s\n", Version)
	},
}

var audiencesCmd = &cobra.Command{
	Use:   "audiences",
	Short: "List the configured audiences and their panels",
	RunE:  runAudiences,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the panel one question and print the answers",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run an interactive session against an audience",
	RunE:  runSession,
}

var (
	flagAudience    string
	flagPersonaID   int
	flagHistoryFile string
	flagProvider    string
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(audiencesCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionCmd)

	rootCmd.PersistentFlags().StringVarP(&flagAudience, "audience", "a", "", "Audience ID to moderate")
	rootCmd.PersistentFlags().StringVar(&flagHistoryFile, "history", "", "Transcript JSON file, read before and rewritten after each question")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "LLM provider: anthropic, openai, or mock (overrides LLM_PROVIDER)")

	askCmd.Flags().IntVarP(&flagPersonaID, "persona", "p", 0, "Address one persona directly instead of the whole panel")
}

func Execute() error {
	return rootCmd.Execute()
}

type session struct {
	cfg      config.Config
	catalog  *catalog.Catalog
	audience *catalog.Audience
	engine   *engine.Engine
	history  []engine.Message
}

func newSession(requireAudience bool) (*session, error) {
	_ = godotenv.Load()

	cfg := config.Load()
	if flagProvider != "" {
		cfg.LLMProvider = flagProvider
	}

	cat, err := catalog.LoadFile(cfg.AudiencesPath)
	if err != nil {
		return nil, fmt.Errorf("load audiences from %s: %w", cfg.AudiencesPath, err)
	}

	s := &session{cfg: cfg, catalog: cat}

	if requireAudience {
		if flagAudience == "" {
			return nil, errors.New("--audience is required; run 'moderator audiences' to list them")
		}
		audience, ok := cat.Audience(flagAudience)
		if !ok {
			return nil, fmt.Errorf("audience %q not found", flagAudience)
		}
		s.audience = audience
	}

	logger := observability.NewLoggerWithWriter("moderator", io.Discard)
	metrics := observability.NewAPIMetrics()
	client := llm.NewFromConfig(cfg, metrics.IncProviderRetry)
	s.engine = engine.New(cat, client, logger, metrics, engine.Options{
		SelectionTemperature:  cfg.SelectionTemperature,
		SelectionMaxTokens:    cfg.SelectionMaxTokens,
		GenerationTemperature: cfg.GenerationTemperature,
		GenerationMaxTokens:   cfg.GenerationMaxTokens,
		MinResponders:         cfg.MinResponders,
		MaxResponders:         cfg.MaxResponders,
		RecentSpeakerWindow:   cfg.RecentSpeakerWindow,
		ConversationWindow:    cfg.ConversationWindow,
		OwnHistoryWindow:      cfg.OwnHistoryWindow,
	})

	if err := s.loadHistory(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) loadHistory() error {
	if flagHistoryFile == "" {
		return nil
	}
	raw, err := os.ReadFile(flagHistoryFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.history); err != nil {
		return fmt.Errorf("parse history file %s: %w", flagHistoryFile, err)
	}
	return nil
}

func (s *session) saveHistory() error {
	if flagHistoryFile == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(flagHistoryFile, raw, 0o644)
}

func runAudiences(cmd *cobra.Command, _ []string) error {
	s, err := newSession(false)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, audience := range s.catalog.Audiences() {
		fmt.Fprintf(out, "%s  (%s, %d personas)\n", audience.ID, audience.Category, len(audience.Personas))
		if audience.Description != "" {
			fmt.Fprintf(out, "    %s\n", audience.Description)
		}
		for _, p := range audience.Personas {
			fmt.Fprintf(out, "    %2d  %s, %d, %s, %s\n", p.ID, p.Name, p.Age, p.Occupation, p.Location)
		}
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	s, err := newSession(true)
	if err != nil {
		return err
	}

	question := strings.TrimSpace(args[0])
	if err := s.ask(cmd.OutOrStdout(), question, flagPersonaID); err != nil {
		return err
	}
	return s.saveHistory()
}

func runSession(cmd *cobra.Command, _ []string) error {
	s, err := newSession(true)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Moderating %q (%d personas). Type a question, '@<id> question' for one persona,\n", s.audience.ID, len(s.audience.Personas))
	fmt.Fprintln(out, "'/transcript' to print the conversation so far, '/quit' to leave.")

	scanner := newLineScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		line, ok := scanner()
		if !ok {
			break
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return s.saveHistory()
		case line == "/transcript":
			fmt.Fprintln(out, engine.FormatTranscript(s.history))
			continue
		}

		personaID, question := parseDirectAsk(line)
		if err := s.ask(out, question, personaID); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := s.saveHistory(); err != nil {
			return err
		}
	}
	return s.saveHistory()
}

func (s *session) ask(out io.Writer, question string, personaID int) error {
	if question == "" {
		return errors.New("question is empty")
	}

	ctx, cancel := s.runContext()
	defer cancel()

	if personaID > 0 {
		result, err := s.engine.AskPersona(ctx, s.audience.ID, personaID, question, s.history)
		if err != nil {
			return err
		}
		s.history = result.History
		fmt.Fprintf(out, "%s: %s\n", result.Response.PersonaName, result.Response.Text)
		return nil
	}

	result, err := s.engine.AskGroup(ctx, s.audience.ID, question, s.history)
	if err != nil {
		return err
	}
	s.history = result.History
	for _, resp := range result.Responses {
		fmt.Fprintf(out, "%s: %s\n", resp.PersonaName, resp.Text)
	}
	for _, failure := range result.Failures {
		fmt.Fprintf(out, "(%s could not answer: %s)\n", failure.PersonaName, failure.Error)
	}
	return nil
}

// parseDirectAsk splits "@3 what do you think?" into persona id 3 and the
// question. Lines without the marker address the whole panel.
func parseDirectAsk(line string) (int, string) {
	if !strings.HasPrefix(line, "@") {
		return 0, line
	}
	rest := strings.TrimPrefix(line, "@")
	idx := strings.IndexByte(rest, ' ')
	if idx <= 0 {
		return 0, line
	}
	var id int
	if _, err := fmt.Sscanf(rest[:idx], "%d", &id); err != nil || id <= 0 {
		return 0, line
	}
	return id, strings.TrimSpace(rest[idx:])
}
