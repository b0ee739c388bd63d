package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	chatapp "github.com/nava40a/chat-app"
)

// ============================================================================
// Config types
// ============================================================================

// Config is the CLI configuration stored in ~/.chat-app/config.toml.
type Config struct {
	Server ConfigServer `toml:"server"`
	Auth   ConfigAuth   `toml:"auth"`
}

// ConfigServer holds connection settings.
type ConfigServer struct {
	BaseURL string `toml:"base_url"`
}

// ConfigAuth holds the persisted session.
type ConfigAuth struct {
	UserID   int64  `toml:"user_id"`
	Username string `toml:"username"`
	Token    string `toml:"token"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.chat-app, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".chat-app")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file. If the file does not exist,
// it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "server.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "server":
		switch field {
		case "base_url":
			cfg.Server.BaseURL = value
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "auth":
		switch field {
		case "token":
			cfg.Auth.Token = value
		case "username":
			cfg.Auth.Username = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, auth)", section)
	}
	return nil
}

// ============================================================================
// Shared helpers
// ============================================================================

// newAPIClient builds the REST client from the config.
func newAPIClient(cfg *Config) *chatapp.Client {
	var opts []chatapp.ClientOption
	if cfg.Auth.Token != "" {
		opts = append(opts, chatapp.WithToken(cfg.Auth.Token))
	}
	return chatapp.NewClient(cfg.Server.BaseURL, opts...)
}

// requireSession returns the persisted session or an error telling the user
// to log in.
func requireSession(cfg *Config) (*chatapp.Session, error) {
	if cfg.Auth.Token == "" || cfg.Auth.UserID == 0 {
		return nil, fmt.Errorf("not logged in; run 'chat-cli login <username>' first")
	}
	return &chatapp.Session{
		UserID:   cfg.Auth.UserID,
		Username: cfg.Auth.Username,
		Token:    cfg.Auth.Token,
	}, nil
}

// openCache opens the durable state store under ~/.chat-app/state.
func openCache() (*chatapp.Cache, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	store, err := chatapp.NewFileStore(filepath.Join(dir, "state"))
	if err != nil {
		return nil, err
	}
	return chatapp.NewCache(store), nil
}

// ============================================================================
// Commands
// ============================================================================

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var rootCmd = &cobra.Command{
	Use:   "chat-cli",
	Short: "chat-app command line client",
	Long:  "Command-line client for the chat-app service.\nRegister, log in, browse the roster with live presence, and chat.",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chat-cli configuration",
	Long:  "View or modify the configuration stored in ~/.chat-app/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No configuration file found. Run 'chat-cli login <username>' to create one.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: chat-cli config set server.base_url http://localhost:8000",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

func main() {
	slog.SetDefault(slog.New(newColorHandler(os.Stderr, slog.LevelInfo)))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
