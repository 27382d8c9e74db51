package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"lightcask/internal/client"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const DIAL_TIMEOUT = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "lightcask-cli",
		Short:        "Command line client for lightcask",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("host", "127.0.0.1", "Server host address")
	cmd.PersistentFlags().IntP("port", "p", 6380, "Server port number")

	cmd.AddCommand(
		newGetCmd(),
		newSetCmd(),
		newDelCmd(),
		newCompactCmd(),
		newPingCmd(),
		newDumpCmd(),
		newRestoreCmd(),
	)
	return cmd
}

func getAddress(flags *pflag.FlagSet) (string, error) {
	host, err := flags.GetString("host")
	if err != nil {
		return "", err
	}
	port, err := flags.GetInt("port")
	if err != nil {
		return "", fmt.Errorf("invalid port: %w", err)
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", port)), nil
}

func connect(flags *pflag.FlagSet) (*client.Client, error) {
	addr, err := getAddress(flags)
	if err != nil {
		return nil, err
	}
	return client.Dial(addr, DIAL_TIMEOUT)
}
