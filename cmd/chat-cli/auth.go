package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var registerCmd = &cobra.Command{
	Use:   "register <username> [tg-username]",
	Short: "Create a new account",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		password, err := readPassword()
		if err != nil {
			return err
		}
		tgUsername := ""
		if len(args) > 1 {
			tgUsername = args[1]
		}

		result, err := newAPIClient(cfg).Register(cmd.Context(), args[0], password, tgUsername)
		if err != nil {
			return err
		}
		fmt.Printf("Registered %s. Log in with 'chat-cli login %s'.\n", result.Username, result.Username)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and persist the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		password, err := readPassword()
		if err != nil {
			return err
		}

		session, err := newAPIClient(cfg).Login(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}

		cfg.Auth.UserID = session.UserID
		cfg.Auth.Username = session.Username
		cfg.Auth.Token = session.Token
		if err := saveConfig(cfg); err != nil {
			return err
		}

		cache, err := openCache()
		if err != nil {
			return err
		}
		if err := cache.SetSession(*session); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}

		fmt.Printf("Logged in as %s (id %d).\n", session.Username, session.UserID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Destroy the current session",
	Long:  "Forget the auth token and clear cached presence and unseen flags.\nMessage logs are kept on disk.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return err
		}

		cache, err := openCache()
		if err != nil {
			return err
		}
		if err := cache.DeleteSession(); err != nil {
			return err
		}
		// Presence and unseen flags are session-scoped; stale values would
		// otherwise leak into the next login.
		if err := cache.SetPresence(nil); err != nil {
			return err
		}
		if err := cache.SetUnseen(nil); err != nil {
			return err
		}

		fmt.Println("Logged out.")
		return nil
	},
}
