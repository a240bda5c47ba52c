package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/ratchet/internal/agent"
	"github.com/signalnine/ratchet/internal/config"
	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/store"
)

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the state directory with the default agent and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) || force {
				data, err := config.Default().Marshal()
				if err != nil {
					return err
				}
				if err := os.MkdirAll(filepath.Dir(cfgFile), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(cfgFile, data, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", cfgFile, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgFile)
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, dir := range []string{a.cfg.StateDir, a.agents.HistoryDir, a.configs.HistoryDir} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := writeIfAbsent(a.agents, force, func() error {
				return a.agents.WriteLive([]byte(agent.DefaultSource))
			}); err != nil {
				return err
			}
			if err := writeIfAbsent(a.configs, force, func() error {
				return params.Default().Save(a.configs.LivePath)
			}); err != nil {
				return err
			}
			if _, err := a.openLedger(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "state in %s\n", a.cfg.StateDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// writeIfAbsent writes the live artifact of s unless it already exists.
// With force an existing artifact is backed up first, then replaced.
func writeIfAbsent(s *store.Store, force bool, write func() error) error {
	if _, err := os.Stat(s.LivePath); err == nil {
		if !force {
			return nil
		}
		if _, err := s.Backup(); err != nil {
			return fmt.Errorf("backing up %s: %w", s.LivePath, err)
		}
	}
	if err := write(); err != nil {
		return fmt.Errorf("writing %s: %w", s.LivePath, err)
	}
	return nil
}
