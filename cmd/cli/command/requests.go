package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"runserver/internal/protocol"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// sendOne opens a connection, sends a single request and prints the reply.
// A response with success=false is reported as an error so scripts can
// check the exit code.
func sendOne(cmd *cobra.Command, v *viper.Viper, reqType string, data map[string]any) error {
	c, err := connect(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Do(cmd.Context(), reqType, data)
	if err != nil {
		return err
	}
	if err := printResponse(cmd.OutOrStdout(), resp, v.GetBool("raw")); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s failed: %s", reqType, resp.Message)
	}
	return nil
}

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

// printResponse writes the response as one JSON line when raw is set,
// otherwise as a coloured status line followed by the indented data.
func printResponse(w io.Writer, resp protocol.Response, raw bool) error {
	if raw {
		out, err := resp.Encode()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}

	if resp.Success {
		okColor.Fprintln(w, "ok:", resp.Message)
	} else {
		failColor.Fprintln(w, "failed:", resp.Message)
	}
	if len(resp.Data) == 0 {
		return nil
	}
	out, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func newLoginCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "login [client-id]",
		Short: "Log a client id in (held only while the connection lasts)",
		Long: `Looks the client id up in the store and registers it as logged in.
A one-shot login is released as soon as runctl exits; use "runctl shell"
to keep it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendOne(cmd, v, protocol.TypeLogin, map[string]any{"id": args[0]})
		},
	}
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status [message]",
		Short: "Ping the server (message defaults to \"ping\")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := "ping"
			if len(args) == 1 {
				msg = args[0]
			}
			return sendOne(cmd, v, protocol.TypeStatus, map[string]any{"message": msg})
		},
	}
}

func newEchoCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "echo [message...]",
		Short: "Have the server echo a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendOne(cmd, v, protocol.TypeEcho, map[string]any{"message": strings.Join(args, " ")})
		},
	}
}

func newSearchCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "search [id]",
		Short: "Fetch the stored record with the given id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendOne(cmd, v, protocol.TypeSearch, map[string]any{"id": args[0]})
		},
	}
}

func newSaveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save [id] [column=value...]",
		Short: "Insert or update a record",
		Long: `Saves a record. The first argument is the id; the rest are column=value
pairs. Values that parse as JSON (numbers, true/false, null, objects) are
sent as such, anything else as a string. --json sends a complete data object
instead.`,
		Example: `  runctl save alice contentId=c1 name=Alice
  runctl save --json '{"id":"bob","contentId":"c2","age":31}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawJSON, _ := cmd.Flags().GetString("json")
			data, err := saveData(args, rawJSON)
			if err != nil {
				return err
			}
			return sendOne(cmd, v, protocol.TypeSave, data)
		},
	}
	cmd.Flags().String("json", "", "full data object as JSON")
	return cmd
}

func newListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the logged-in clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sendOne(cmd, v, protocol.TypeList, nil)
		},
	}
}

// saveData builds the data object for a save request
func saveData(args []string, rawJSON string) (map[string]any, error) {
	if rawJSON != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--json cannot be combined with arguments")
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(rawJSON), &data); err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
		return data, nil
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("an id is required")
	}
	data := map[string]any{"id": args[0]}
	pairs, err := parsePairs(args[1:])
	if err != nil {
		return nil, err
	}
	for k, val := range pairs {
		data[k] = val
	}
	return data, nil
}

// parsePairs turns column=value arguments into a map
func parsePairs(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected column=value, got %q", arg)
		}
		out[key] = parseValue(value)
	}
	return out, nil
}

func parseValue(s string) any {
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		return parsed
	}
	return s
}
