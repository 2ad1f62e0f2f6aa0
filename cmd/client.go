package cmd

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/SampleEnvironment/frappy-go/transport"
	"github.com/SampleEnvironment/frappy-go/wire"
)

var clientCmd = &cobra.Command{
	Use:   "client <uri>",
	Short: "Open an interactive session to a SEC node",
	Long: `Open an interactive session to a SEC node: lines typed on stdin
are sent verbatim, replies and asynchronous updates are printed as they
arrive. The identity exchange runs automatically.

The URI may be tcp://host:port, a bare host:port, or serial://device.`,
	Args: cobra.ExactArgs(1),
	RunE: runClient,
}

var clientTimeout time.Duration

func init() {
	rootCmd.AddCommand(clientCmd)

	clientCmd.Flags().DurationVar(&clientTimeout, "timeout", 10*time.Second, "connect timeout")
}

func runClient(cmd *cobra.Command, args []string) error {
	conn, err := transport.Dial(args[0], clientTimeout)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	if err := conn.WriteLine([]byte(wire.ActionIdentify)); err != nil {
		return err
	}
	idn, err := conn.ReadLine(clientTimeout)
	if err != nil {
		return fmt.Errorf("no identity reply: %w", err)
	}
	fmt.Println(string(idn))

	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			line, err := conn.ReadLine(time.Hour)
			if err == transport.ErrTimeout {
				continue
			}
			if err != nil {
				if interactive {
					fmt.Fprintln(os.Stderr, "connection closed:", err)
				}
				return
			}
			fmt.Println(string(line))
		}
	}()

	if interactive {
		fmt.Fprintln(os.Stderr, "type protocol lines, ^D quits")
	}
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if err := conn.WriteLine(sc.Bytes()); err != nil {
			return err
		}
	}
	conn.Disconnect()
	<-done
	return sc.Err()
}
