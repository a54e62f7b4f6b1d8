package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	jwtpkg "github.com/splax/deploywatch/pkg/jwt"
)

const defaultDaemonURL = "http://localhost:4100"

type cliConfig struct {
	VercelToken string `json:"vercel_token"`
	TeamID      string `json:"team_id,omitempty"`
	DaemonURL   string `json:"daemon_url"`
	DaemonToken string `json:"daemon_token,omitempty"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "watch":
		err = commandWatch(args, false)
	case "deploy":
		err = commandWatch(args, true)
	case "logs":
		err = commandLogs(args)
	case "token":
		err = commandToken(args)
	case "hooks":
		err = commandHooks(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "Vercel access token (supply to avoid prompt)")
	team := fs.String("team", "", "Vercel team identifier")
	daemon := fs.String("daemon", "", "Daemon base URL (default http://localhost:4100)")
	daemonToken := fs.String("daemon-token", "", "Operator JWT for the daemon")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Print("Vercel token: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(bytes))
	}
	if secret == "" {
		return errors.New("a Vercel token is required")
	}

	cfg, _ := loadConfig()
	cfg.VercelToken = secret
	if strings.TrimSpace(*team) != "" {
		cfg.TeamID = strings.TrimSpace(*team)
	}
	if strings.TrimSpace(*daemon) != "" {
		cfg.DaemonURL = strings.TrimSpace(*daemon)
	}
	if strings.TrimSpace(*daemonToken) != "" {
		cfg.DaemonToken = strings.TrimSpace(*daemonToken)
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("credentials saved")
	return nil
}

func commandToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "", "Token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	scope := fs.String("scope", "", "Token scope (\"read\" for observe-only tokens)")
	secret := fs.String("secret", "", "Signing secret (defaults to $JWT_SECRET)")
	fs.Parse(args)

	if strings.TrimSpace(*subject) == "" {
		return errors.New("--subject is required")
	}
	key := strings.TrimSpace(*secret)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	}
	if key == "" {
		return errors.New("--secret or JWT_SECRET is required")
	}
	token, err := jwtpkg.GenerateToken(strings.TrimSpace(*subject), strings.TrimSpace(*scope), key, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	return readConfig(path)
}

func readConfig(path string) (cliConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{DaemonURL: defaultDaemonURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.DaemonURL == "" {
		cfg.DaemonURL = defaultDaemonURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	return writeConfig(path, cfg)
}

func writeConfig(path string, cfg cliConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	if custom := strings.TrimSpace(os.Getenv("DEPLOYWATCH_CONFIG")); custom != "" {
		return custom, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "deploywatch", "config.json"), nil
}

func printVersion() {
	fmt.Printf("deploywatch %s\n", buildVersion)
}

func printUsage() {
	fmt.Println(`deploywatch - trigger Vercel deploy hooks and follow them to completion

Usage:
  deploywatch login [--token TOKEN] [--team TEAM] [--daemon URL] [--daemon-token JWT]
  deploywatch watch --project NAME [--hook URL] [--name NAME] [--deploy] [--timeout D]
  deploywatch deploy --hook URL --project NAME [--name NAME] [--timeout D]
  deploywatch logs --project NAME [--limit N]
  deploywatch token --subject NAME [--ttl D] [--scope read] [--secret KEY]
  deploywatch hooks list
  deploywatch hooks add --url URL --project NAME [--name NAME] [--token TOKEN] [--team TEAM]
  deploywatch hooks deploy --id ID [--follow]
  deploywatch hooks rm --id ID
  deploywatch hooks logs --id ID [--limit N]
  deploywatch hooks follow [--id ID]
  deploywatch version`)
}
