package command

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shellHelp = `commands:
  <type> [column=value...]   send a request, e.g. "login id=alice"
  {...}                      send a raw JSON line as-is
  help                       show this text
  quit | exit                close the connection`

func newShellCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session over a single connection",
		Long: `Opens one connection and reads requests from stdin, one per line. The
connection (and any login made on it) lives until the shell exits.

` + shellHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			raw := v.GetBool("raw")
			fmt.Fprintf(out, "connected to %s\n", v.GetString("addr"))

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())

				switch {
				case line == "":
					continue
				case line == "quit" || line == "exit":
					return nil
				case line == "help":
					fmt.Fprintln(out, shellHelp)
					continue
				}

				var frame []byte
				if strings.HasPrefix(line, "{") {
					frame = []byte(line + "\n")
				} else {
					fields := strings.Fields(line)
					data, err := parsePairs(fields[1:])
					if err != nil {
						fmt.Fprintln(out, "error:", err)
						continue
					}
					resp, err := c.Do(cmd.Context(), fields[0], data)
					if err != nil {
						return err
					}
					if err := printResponse(out, resp, raw); err != nil {
						return err
					}
					continue
				}

				resp, err := c.DoRaw(cmd.Context(), frame)
				if err != nil {
					return err
				}
				if err := printResponse(out, resp, raw); err != nil {
					return err
				}
			}
		},
	}
}
