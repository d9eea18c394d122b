package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ashureev/guest-coach/internal/retention"
	"github.com/ashureev/guest-coach/internal/rollout"
	"github.com/ashureev/guest-coach/internal/store"
)

// newCLIApp creates the operator CLI bound to repo.
func newCLIApp(repo store.Repository, out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "coachctl",
		Usage:   "Inspect and maintain guest coaching data",
		Version: Version,
		Writer:  out,
		Commands: []*cli.Command{
			stateCmd(repo),
			historyCmd(repo),
			eraseCmd(repo),
			rolloutCmd(),
			purgeEventsCmd(repo),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// stateCmd prints a session's coaching memory.
func stateCmd(repo store.Repository) *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Show the coaching state of a session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Required: true, Usage: "Session ID"},
		},
		Action: func(c *cli.Context) error {
			st, err := repo.GetOrCreateSessionState(c.Context, c.String("session"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, st)
		},
	}
}

// historyCmd prints a session's turns.
func historyCmd(repo store.Repository) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List the turns of a session, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Required: true, Usage: "Session ID"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 0, Usage: "Only the last N turns (0 = all)"},
		},
		Action: func(c *cli.Context) error {
			turns, err := repo.ListTurns(c.Context, c.String("session"), c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{
				"session_id": c.String("session"),
				"count":      len(turns),
				"turns":      turns,
			})
		},
	}
}

// eraseCmd deletes every record attached to a guest.
func eraseCmd(repo store.Repository) *cli.Command {
	return &cli.Command{
		Name:  "erase",
		Usage: "Erase all data for a guest",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "guest", Aliases: []string{"g"}, Required: true, Usage: "Guest ID"},
		},
		Action: func(c *cli.Context) error {
			n, err := repo.DeleteGuestData(c.Context, c.String("guest"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{
				"guest_id":        c.String("guest"),
				"erased_sessions": n,
			})
		},
	}
}

// rolloutCmd reports which engine a guest is routed to.
func rolloutCmd() *cli.Command {
	return &cli.Command{
		Name:  "rollout",
		Usage: "Show a guest's rollout bucket and whether the adaptive engine applies",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "guest", Aliases: []string{"g"}, Required: true, Usage: "Guest ID"},
			&cli.IntFlag{Name: "percent", Aliases: []string{"p"}, Value: 100, Usage: "Rollout percentage to evaluate"},
		},
		Action: func(c *cli.Context) error {
			guestID := c.String("guest")
			return outputJSON(c.App.Writer, map[string]any{
				"guest_id": guestID,
				"bucket":   rollout.Bucket(guestID),
				"percent":  c.Int("percent"),
				"enabled":  rollout.Enabled(guestID, c.Int("percent")),
			})
		},
	}
}

// purgeEventsCmd deletes old analytics events once.
func purgeEventsCmd(repo store.Repository) *cli.Command {
	return &cli.Command{
		Name:  "purge-events",
		Usage: "Delete analytics events older than a duration",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "older-than", Value: 30 * 24 * time.Hour, Usage: "Retention window (e.g. 720h)"},
		},
		Action: func(c *cli.Context) error {
			window := c.Duration("older-than")
			if window <= 0 {
				return outputError(fmt.Errorf("--older-than must be positive"))
			}
			n, err := retention.NewWorker(repo, window, 0, nil).Sweep(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"purged": n})
		},
	}
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	return cli.Exit(err.Error(), 1)
}
