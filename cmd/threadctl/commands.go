package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xaenox/codereview-threads/internal/app"
	"github.com/xaenox/codereview-threads/internal/credential"
	"github.com/xaenox/codereview-threads/internal/models"
	"github.com/xaenox/codereview-threads/internal/provider"
	"github.com/xaenox/codereview-threads/internal/review"
	"github.com/xaenox/codereview-threads/internal/threads"
	"github.com/xaenox/codereview-threads/pkg/config"
)

// session is the loaded configuration plus the wired engine for one command.
type session struct {
	cfg    *config.Config
	app    *app.App
	logger *zap.Logger
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := zap.NewNop()
	if c.Bool("verbose") || cfg.Log.Debug {
		if logger, err = app.NewLogger(true); err != nil {
			return nil, err
		}
	}
	if cfg.Storage.Backend == "memory" {
		fmt.Fprintln(c.App.ErrWriter, "warning: storage.backend is memory, threads will not outlive this command")
	}

	a, err := app.New(c.Context, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, app: a, logger: logger}, nil
}

func (s *session) Close() {
	_ = s.app.Close()
	_ = s.logger.Sync()
}

// withSession opens the engine, runs fn and closes it again.
func withSession(fn func(c *cli.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(c, s)
	}
}

func streamTo(w io.Writer) provider.ChunkFunc {
	return func(chunk, _ string) {
		fmt.Fprint(w, chunk)
	}
}

func printOutcome(w io.Writer, out review.Outcome, streamed bool) {
	if streamed {
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, out.Answer.Content)
	}
	var badges []string
	if out.Result.Mock {
		badges = append(badges, "mock")
	}
	if out.Result.Cached {
		badges = append(badges, "cached")
	}
	fmt.Fprintf(w, "\nthread %s (%s)", out.Thread.ID, lineLabel(out.Thread))
	if len(badges) > 0 {
		fmt.Fprintf(w, " [%s]", strings.Join(badges, ", "))
	}
	fmt.Fprintln(w)
}

func lineLabel(t models.Thread) string {
	if t.StartLine == t.EndLine {
		return fmt.Sprintf("line %d", t.StartLine)
	}
	return fmt.Sprintf("lines %d-%d", t.StartLine, t.EndLine)
}

// loadDocument replaces the session document with the file at path, if given.
func loadDocument(s *session, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	s.app.Store.SetDocument(string(data), filepath.Base(path), "")
	return nil
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:  "ask",
		Usage: "Start a thread on a line range and ask a question",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Source `FILE` to review (defaults to the saved document)"},
			&cli.IntFlag{Name: "start", Aliases: []string{"s"}, Usage: "First line of the range (1-based)", Required: true},
			&cli.IntFlag{Name: "end", Aliases: []string{"e"}, Usage: "Last line of the range (defaults to --start)"},
			&cli.StringFlag{Name: "question", Aliases: []string{"q"}, Usage: "Question to ask", Required: true},
			&cli.BoolFlag{Name: "stream", Usage: "Print the answer as it arrives"},
		},
		Action: withSession(func(c *cli.Context, s *session) error {
			if err := loadDocument(s, c.String("file")); err != nil {
				return err
			}
			start, end := c.Int("start"), c.Int("end")
			if end == 0 {
				end = start
			}
			if !(models.Selection{StartLine: start, EndLine: end}).Valid() {
				return fmt.Errorf("invalid line range %d-%d", start, end)
			}

			sel := models.SelectLines(s.app.Store.Document().Text, start, end)
			var onChunk provider.ChunkFunc
			if c.Bool("stream") {
				onChunk = streamTo(c.App.Writer)
			}
			out, err := s.app.Review.Ask(c.Context, sel, c.String("question"), onChunk)
			if err != nil {
				return err
			}
			printOutcome(c.App.Writer, out, onChunk != nil)
			return nil
		}),
	}
}

func replyCommand() *cli.Command {
	return &cli.Command{
		Name:  "reply",
		Usage: "Continue a thread (the active one unless --id is given)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Thread `ID`"},
			&cli.StringFlag{Name: "question", Aliases: []string{"q"}, Usage: "Follow-up question", Required: true},
			&cli.BoolFlag{Name: "stream", Usage: "Print the answer as it arrives"},
		},
		Action: withSession(func(c *cli.Context, s *session) error {
			id, err := threadID(c, s)
			if err != nil {
				return err
			}
			var onChunk provider.ChunkFunc
			if c.Bool("stream") {
				onChunk = streamTo(c.App.Writer)
			}
			out, err := s.app.Review.Reply(c.Context, id, c.String("question"), onChunk)
			if err != nil {
				return err
			}
			printOutcome(c.App.Writer, out, onChunk != nil)
			return nil
		}),
	}
}

// threadID returns --id or, without it, the active thread.
func threadID(c *cli.Context, s *session) (string, error) {
	if id := c.String("id"); id != "" {
		if _, ok := s.app.Store.Thread(id); !ok {
			return "", fmt.Errorf("%w: %s", review.ErrThreadNotFound, id)
		}
		return id, nil
	}
	active, ok := s.app.Store.ActiveThread()
	if !ok {
		return "", fmt.Errorf("no active thread, pass --id")
	}
	return active.ID, nil
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List threads, optionally only those touching a line range",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "start", Aliases: []string{"s"}, Usage: "First line of the range"},
			&cli.IntFlag{Name: "end", Aliases: []string{"e"}, Usage: "Last line of the range (defaults to --start)"},
		},
		Action: withSession(func(c *cli.Context, s *session) error {
			list := s.app.Store.Threads()
			if c.IsSet("start") {
				start, end := c.Int("start"), c.Int("end")
				if end == 0 {
					end = start
				}
				list = s.app.Store.FindThreadsOverlapping(start, end)
			}
			if len(list) == 0 {
				fmt.Fprintln(c.App.Writer, "No threads.")
				return nil
			}

			activeID := ""
			if active, ok := s.app.Store.ActiveThread(); ok {
				activeID = active.ID
			}
			for _, t := range list {
				marker := " "
				if t.ID == activeID {
					marker = "*"
				}
				fmt.Fprintf(c.App.Writer, "%s %s  %-12s %-9s %d messages\n",
					marker, t.ID, lineLabel(t), t.Status, len(t.Messages))
			}
			return nil
		}),
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Render a thread as Markdown",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Thread `ID` (defaults to the active thread)"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write to `FILE` instead of stdout"},
		},
		Action: withSession(func(c *cli.Context, s *session) error {
			id, err := threadID(c, s)
			if err != nil {
				return err
			}
			thread, _ := s.app.Store.Thread(id)
			content := threads.ExportThread(thread, s.app.Store.Document().Language)

			if path := c.String("out"); path != "" {
				return os.WriteFile(path, []byte(content), 0o644)
			}
			_, err = fmt.Fprint(c.App.Writer, content)
			return err
		}),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Set a thread's status",
		ArgsUsage: "active|resolved|archived",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Thread `ID` (defaults to the active thread)"},
		},
		Action: withSession(func(c *cli.Context, s *session) error {
			status := models.ThreadStatus(c.Args().First())
			if !status.Valid() {
				return fmt.Errorf("status must be active, resolved or archived, got %q", c.Args().First())
			}
			id, err := threadID(c, s)
			if err != nil {
				return err
			}
			s.app.Store.UpdateThread(id, models.ThreadPatch{Status: &status})
			fmt.Fprintf(c.App.Writer, "thread %s is now %s\n", id, status)
			return nil
		}),
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete a thread",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Thread `ID`", Required: true},
		},
		Action: withSession(func(c *cli.Context, s *session) error {
			s.app.Store.RemoveThread(c.String("id"))
			fmt.Fprintf(c.App.Writer, "deleted %s\n", c.String("id"))
			return nil
		}),
	}
}

func navigateCommand(name string, forward bool) *cli.Command {
	direction := "previous"
	if forward {
		direction = "next"
	}
	return &cli.Command{
		Name:  name,
		Usage: "Make the " + direction + " thread by line active",
		Action: withSession(func(c *cli.Context, s *session) error {
			t, ok := s.app.Store.NavigateThreads(forward)
			if !ok {
				fmt.Fprintln(c.App.Writer, "No threads.")
				return nil
			}
			fmt.Fprintf(c.App.Writer, "%s  %s  %s\n", t.ID, lineLabel(t), t.Status)
			return nil
		}),
	}
}

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or change the AI settings",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the current provider, model and which keys are set",
				Action: withSession(func(c *cli.Context, s *session) error {
					settings := s.app.Store.Settings()
					fmt.Fprintf(c.App.Writer, "provider: %s\nmodel: %s\n", settings.Provider, settings.Model)
					for _, d := range provider.Catalogue() {
						if !d.RequiresKey {
							continue
						}
						state := "not set"
						if settings.APIKey(d.ID) != "" {
							state = "set"
						}
						fmt.Fprintf(c.App.Writer, "%s key: %s\n", d.ID, state)
					}
					return nil
				}),
			},
			{
				Name:      "provider",
				Usage:     "Switch provider",
				ArgsUsage: "ID",
				Action: withSession(func(c *cli.Context, s *session) error {
					d, ok := provider.Lookup(models.ProviderID(c.Args().First()))
					if !ok {
						return fmt.Errorf("unknown provider %q", c.Args().First())
					}
					s.app.Store.UpdateSettings(func(settings *models.AISettings) {
						settings.Provider = d.ID
						settings.Model = d.ResolveModel(settings.Model)
					})
					fmt.Fprintf(c.App.Writer, "provider: %s\nmodel: %s\n", d.ID, s.app.Store.Settings().Model)
					return nil
				}),
			},
			{
				Name:      "model",
				Usage:     "Switch model",
				ArgsUsage: "ID",
				Action: withSession(func(c *cli.Context, s *session) error {
					model := strings.TrimSpace(c.Args().First())
					if model == "" {
						return fmt.Errorf("missing model id")
					}
					s.app.Store.SetModel(model)
					fmt.Fprintf(c.App.Writer, "model: %s\n", model)
					return nil
				}),
			},
			{
				Name:      "key",
				Usage:     "Store an API key in the session or, with --keyring, the OS keyring",
				ArgsUsage: "PROVIDER SECRET",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "keyring", Usage: "Store the key in the OS keyring"},
				},
				Action: withSession(func(c *cli.Context, s *session) error {
					if c.NArg() != 2 {
						return fmt.Errorf("expected PROVIDER SECRET")
					}
					d, ok := provider.Lookup(models.ProviderID(c.Args().Get(0)))
					if !ok || !d.RequiresKey {
						return fmt.Errorf("provider %q does not take an API key", c.Args().Get(0))
					}
					secret := c.Args().Get(1)

					if !c.Bool("keyring") {
						s.app.Store.SetAPIKey(d.ID, secret)
						fmt.Fprintf(c.App.Writer, "%s key saved in session\n", d.ID)
						return nil
					}

					ring := s.app.Keyring
					if ring == nil {
						var err error
						if ring, err = credential.OpenKeyring(app.KeyringConfig(s.cfg)); err != nil {
							return err
						}
					}
					if err := ring.Set(d.ID, secret); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s key saved in keyring\n", d.ID)
					return nil
				}),
			},
		},
	}
}

func providersCommand() *cli.Command {
	return &cli.Command{
		Name:  "providers",
		Usage: "List providers and their models",
		Action: func(c *cli.Context) error {
			for _, d := range provider.Catalogue() {
				fmt.Fprintf(c.App.Writer, "%s (%s)\n", d.ID, d.Name)
				for _, m := range d.Models {
					fmt.Fprintf(c.App.Writer, "  %s  %s\n", m.ID, m.Name)
				}
			}
			return nil
		},
	}
}

func testCommand() *cli.Command {
	return &cli.Command{
		Name:  "test",
		Usage: "Check that the current provider answers",
		Action: withSession(func(c *cli.Context, s *session) error {
			status := s.app.Adapter.TestConnection(c.Context, s.app.Store.Settings())
			if !status.Success {
				return fmt.Errorf("%s", status.Message)
			}
			fmt.Fprintln(c.App.Writer, status.Message)
			return nil
		}),
	}
}
