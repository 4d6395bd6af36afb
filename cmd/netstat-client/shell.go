package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/irctrakz/netstat/pkg/client"
	"github.com/irctrakz/netstat/pkg/config"
	"github.com/irctrakz/netstat/pkg/core"
)

const shellHelp = `Commands:
  connect [address] [port]  open a connection (defaults from config)
  fetch                     request statistics on the open connection
  disconnect                close the connection
  state                     print the session state
  help                      show this text
  quit                      leave the shell`

func shellCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session: connect, fetch and disconnect by hand",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runShell(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// runShell reads commands from in until EOF or quit. Session events are
// written to out as they happen.
func runShell(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	sink := core.EventSinkFunc(func(line core.LogLine) {
		fmt.Fprintln(out, line.String())
	})
	sess := client.New(cfg.Client, client.WithEvents(sink))
	defer sess.Disconnect()

	fmt.Fprintln(out, "Type 'help' for commands.")
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch strings.ToLower(fields[0]) {
		case "connect":
			address, port := cfg.Client.Address, strconv.Itoa(cfg.Client.Port)
			if len(fields) > 1 {
				address = fields[1]
			}
			if len(fields) > 2 {
				port = fields[2]
			}
			err = sess.Connect(ctx, address, port)
		case "fetch":
			_, err = sess.FetchStats(ctx)
		case "disconnect":
			sess.Disconnect()
		case "state":
			fmt.Fprintf(out, "%s %s\n", sess.State(), sess.RemoteAddr())
		case "help", "?":
			fmt.Fprintln(out, shellHelp)
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "Unknown command %q. Type 'help' for commands.\n", fields[0])
		}
		// Connect and fetch failures are already reported through the
		// session events, except the ones rejected before any I/O.
		if err != nil && (errors.Is(err, core.ErrConfig) || errors.Is(err, core.ErrState)) {
			fmt.Fprintln(out, core.Describe(err))
		}
	}
}
