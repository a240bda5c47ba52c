package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/store"
)

func (a *app) storeFor(kind string) (*store.Store, error) {
	switch store.Kind(kind) {
	case store.KindAgent:
		return a.agents, nil
	case store.KindConfig:
		return a.configs, nil
	}
	return nil, fmt.Errorf("unknown artifact kind %q (want agent or config)", kind)
}

func kindArgs(args []string) []string {
	if len(args) == 0 {
		return []string{string(store.KindAgent), string(store.KindConfig)}
	}
	return args
}

func newHistoryCmd() *cobra.Command {
	var rounds int
	cmd := &cobra.Command{
		Use:       "history [agent|config]",
		Short:     "List backups and recent rounds",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(store.KindAgent), string(store.KindConfig)},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, kind := range kindArgs(args) {
				s, err := a.storeFor(kind)
				if err != nil {
					return err
				}
				entries, err := s.History()
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s backups (%d):\n", kind, len(entries))
				for _, e := range entries {
					fmt.Fprintf(a.out, "  %s  %s\n", e.Created.Format(time.RFC3339), e.Path)
				}
			}

			if rounds <= 0 {
				return nil
			}
			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			track := ""
			if len(args) == 1 {
				track = args[0]
			}
			rs, err := l.Rounds(cmd.Context(), track, rounds)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "\nrounds:")
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tTRACK\tSTATE\tWINNER\tBASELINE\tWINNER AVG\tREASON")
			fmt.Fprintln(tw, strings.Repeat("-", 80))
			for _, r := range rs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.3f\t%.3f\t%s\n",
					r.StartedAt.Format(time.RFC3339), r.Track, r.State, r.WinnerLabel, r.BaselineAvg, r.WinnerAvg, r.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 10, "recent rounds to list from the ledger (0 to skip)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "restore <agent|config>",
		Short:     "Restore the live artifact from its newest backup, saving the current one to history",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(store.KindAgent), string(store.KindConfig)},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			s, err := a.storeFor(args[0])
			if err != nil {
				return err
			}
			restored, saved, ok, err := s.Revert()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no %s backups to restore", args[0])
			}
			if !saved.IsZero() {
				fmt.Fprintf(a.out, "saved previous %s to %s\n", args[0], saved.Path)
			}
			fmt.Fprintf(a.out, "restored %s from %s\n", s.LivePath, restored.Path)
			return nil
		},
	}
}
