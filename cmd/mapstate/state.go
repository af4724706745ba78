package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alfredjeanlab/mapstate/internal/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var saveCmd = &cobra.Command{
	Use:     "save [file|-]",
	Short:   "Save a map state read from a file or stdin",
	GroupID: "state",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "-"
		if len(args) == 1 {
			path = args[0]
		}
		doc, err := readDocument(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		name, _ := cmd.Flags().GetString("name")
		if name != "" {
			saved, err := stateClient.SaveUserState(cmd.Context(), name, doc)
			if err != nil {
				return fmt.Errorf("saving state: %w", err)
			}
			if jsonOutput {
				return printJSON(out, saved)
			}
			fmt.Fprintf(out, "Saved %s\nShare: %s\n", saved.ID, saved.ShareURL)
			return nil
		}

		id, err := stateClient.SaveState(cmd.Context(), doc)
		if err != nil {
			return fmt.Errorf("saving state: %w", err)
		}
		if jsonOutput {
			return printJSON(out, map[string]string{"id": id})
		}
		fmt.Fprintln(out, id)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:     "get <id>",
	Short:   "Print a stored map state",
	GroupID: "state",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		var (
			doc  json.RawMessage
			full any
			err  error
		)
		if mine, _ := cmd.Flags().GetBool("mine"); mine {
			var st *client.UserState
			if st, err = stateClient.GetUserState(cmd.Context(), id); err == nil {
				doc, full = st.State, st
			}
		} else {
			var st *client.State
			if st, err = stateClient.GetState(cmd.Context(), id); err == nil {
				doc, full = st.State, st
			}
		}
		switch {
		case client.IsNotFound(err):
			return fmt.Errorf("no state %s: %w", id, err)
		case err != nil:
			return fmt.Errorf("getting state %s: %w", id, err)
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), full)
		}
		return printDocument(cmd.OutOrStdout(), doc)
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List your saved states, or every state with --all",
	GroupID: "state",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if all, _ := cmd.Flags().GetBool("all"); all {
			states, err := stateClient.ListStates(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing states: %w", err)
			}
			if jsonOutput {
				return printJSON(out, states)
			}
			printStateTable(out, states)
			return nil
		}

		states, err := stateClient.ListUserStates(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing states: %w", err)
		}
		if jsonOutput {
			return printJSON(out, states)
		}
		printSummaryTable(out, states)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Short:   "Delete a stored map state",
	GroupID: "state",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if mine, _ := cmd.Flags().GetBool("mine"); mine {
			if err := stateClient.DeleteUserState(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deleting state %s: %w", args[0], err)
			}
			fmt.Fprintf(out, "Deleted %s\n", args[0])
			return nil
		}

		deleted, err := stateClient.DeleteState(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("deleting state %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(out, map[string]any{"id": args[0], "deleted": deleted})
		}
		if deleted {
			fmt.Fprintf(out, "Deleted %s\n", args[0])
		} else {
			fmt.Fprintf(out, "No state %s\n", args[0])
		}
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:     "login <username>",
	Short:   "Log in and print a session token for MAPSTATE_TOKEN",
	GroupID: "state",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			p, err := readPassword(cmd)
			if err != nil {
				return err
			}
			password = p
		}

		resp, err := stateClient.Login(cmd.Context(), args[0], password)
		if err != nil {
			return fmt.Errorf("logging in: %w", err)
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, resp)
		}
		fmt.Fprintln(out, resp.SessionToken)
		return nil
	},
}

func init() {
	saveCmd.Flags().String("name", "", "save as a named state of the logged-in user")
	getCmd.Flags().Bool("mine", false, "read one of your named states")
	listCmd.Flags().Bool("all", false, "list every anonymous state (needs --admin-token)")
	rmCmd.Flags().Bool("mine", false, "delete one of your named states")
	loginCmd.Flags().String("password", "", "password (prompted when omitted)")
}

// readDocument reads a JSON document from path, or from stdin when path is "-".
func readDocument(stdin io.Reader, path string) (json.RawMessage, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil, errors.New("state is empty")
	}
	if !json.Valid(data) {
		return nil, errors.New("state is not valid JSON")
	}
	return data, nil
}

// readPassword prompts on a terminal without echo, or reads one line from
// piped stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		p, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(p), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
