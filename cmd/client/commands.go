package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"lightcask/internal/backup"
	"lightcask/internal/client"
	"lightcask/internal/store"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Flags())
			if err != nil {
				return err
			}
			defer c.Close()

			value, err := c.Get([]byte(args[0]))
			if errors.Is(err, client.ErrNil) {
				fmt.Fprintln(cmd.OutOrStdout(), "(nil)")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(value))
			return nil
		},
	}
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Add or update a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Flags())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Set([]byte(args[0]), []byte(args[1])); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newDelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <key> [key...]",
		Short: "Delete keys and print how many existed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Flags())
			if err != nil {
				return err
			}
			defer c.Close()

			keys := make([][]byte, len(args))
			for i, a := range args {
				keys[i] = []byte(a)
			}
			n, err := c.Del(keys...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "(integer) %d\n", n)
			return nil
		},
	}
}

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Ask the server to compact its data directory now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Flags())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Compact(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Flags())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Ping(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PONG")
			return nil
		},
	}
}

// openOffline opens a data directory directly. It fails with store.ErrLocked
// while a server owns the directory.
func openOffline(dir string) (*store.Store, error) {
	opts := store.DefaultOptions()
	opts.SyncMode = store.SyncNone
	opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return store.Open(dir, opts)
}

func newDumpCmd() *cobra.Command {
	var dir, out string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write a compressed backup of a data directory (server must be stopped)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openOffline(dir)
			if err != nil {
				return err
			}
			defer s.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := backup.Export(s, w)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "dumped %d keys\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./data", "Data directory")
	cmd.Flags().StringVar(&out, "out", "-", "Backup file, - for stdout")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var dir, in string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Load a backup into a data directory (server must be stopped)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			s, err := openOffline(dir)
			if err != nil {
				return err
			}

			n, err := backup.Import(r, s)
			if cerr := s.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "restored %d keys\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./data", "Data directory")
	cmd.Flags().StringVar(&in, "in", "-", "Backup file, - for stdin")
	return cmd
}
