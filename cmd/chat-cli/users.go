package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	chatapp "github.com/nava40a/chat-app"
)

func init() {
	rootCmd.AddCommand(usersCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the roster with presence and unseen-message badges",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		session, err := requireSession(cfg)
		if err != nil {
			return err
		}

		users, err := newAPIClient(cfg).Users(cmd.Context())
		if err != nil {
			return err
		}

		cache, err := openCache()
		if err != nil {
			return err
		}
		// Offline view of the cached state: no connection is opened here.
		state, err := chatapp.NewClientState(*session, cache, nil)
		if err != nil {
			return err
		}
		defer state.Close()

		for _, u := range users {
			if u.ID == session.UserID {
				continue
			}
			line := fmt.Sprintf("%6d  %s", u.ID, u.Username)
			if state.PresenceOf(u.ID) == chatapp.StatusOnline {
				line += color.GreenString("  online")
			}
			if state.HasUnseen(u.ID) {
				line += color.RedString("  new message")
			}
			fmt.Println(line)
		}
		return nil
	},
}
