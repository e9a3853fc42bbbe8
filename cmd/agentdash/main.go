// ABOUTME: Entry point for the agentdash dashboard server
// ABOUTME: Serves the dashboard and provides setup and health commands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/config"
	"github.com/2389/agentdash/internal/console"
	"github.com/2389/agentdash/internal/server"
	"github.com/2389/agentdash/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                        _      _           _
  __ _  __ _  ___ _ __ | |_ __| | __ _ ___| |__
 / _' |/ _' |/ _ \ '_ \| __/ _' |/ _' / __| '_ \
| (_| | (_| |  __/ | | | || (_| | (_| \__ \ | | |
 \__,_|\__, |\___|_| |_|\__\__,_|\__,_|___/_| |_|
       |___/
`

// getConfigPath returns the path to the config file.
// Priority: AGENTDASH_CONFIG env var > XDG_CONFIG_HOME/agentdash/config.yaml > ~/.config/agentdash/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AGENTDASH_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agentdash", "config.yaml")
}

// getDataPath returns the path to the data directory.
// Priority: XDG_DATA_HOME/agentdash > ~/.local/share/agentdash
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "agentdash")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: agentdash <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                              Start the dashboard server")
		fmt.Println("  init                               Create a new config file interactively")
		fmt.Println("  bootstrap --email EMAIL [--name N] Create the owner account and an admin API key")
		fmt.Println("  health                             Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Dashboard: %s\n", cfg.BaseURL())

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.OAuth.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("OAuth:     %s\n", cfg.OAuth.Provider)
	}

	fmt.Println()

	logger.Info("starting agentdash",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := cfg.BaseURL() + "/healthz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// bootstrapArgs holds the parsed bootstrap flags.
type bootstrapArgs struct {
	email    string
	name     string
	password string
}

// parseBootstrapArgs supports both "--flag value" and "--flag=value".
func parseBootstrapArgs(args []string) (*bootstrapArgs, error) {
	var out bootstrapArgs
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		var dst *string
		switch name {
		case "--email", "-e":
			dst = &out.email
		case "--name", "-n":
			dst = &out.name
		case "--password":
			dst = &out.password
		default:
			if strings.HasPrefix(arg, "-") {
				return nil, fmt.Errorf("unknown flag: %s", arg)
			}
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		*dst = strings.TrimSpace(value)
	}

	if out.email == "" {
		return nil, fmt.Errorf("--email flag is required")
	}
	if !strings.Contains(out.email, "@") {
		return nil, fmt.Errorf("--email must be an email address")
	}
	if len(out.name) > 100 {
		return nil, fmt.Errorf("display name exceeds maximum length of 100 characters")
	}
	return &out, nil
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random JWT secret (if none exists)
// 2. Creates the database and the owner profile
// 3. Issues an admin API key for agentdash-admin
func runBootstrap(ctx context.Context, rawArgs []string) error {
	args, err := parseBootstrapArgs(rawArgs)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config
	if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
		jwtSecret, err := randomSecret()
		if err != nil {
			return err
		}
		dbPath := filepath.Join(getDataPath(), "agentdash.db")
		if err := writeConfig(configPath, defaultConfig(dbPath, jwtSecret), 0600); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	count, err := s.CountProfiles(ctx)
	if err != nil {
		return fmt.Errorf("checking profiles: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("bootstrap already complete: %d profile(s) exist", count)
	}

	password := args.password
	generated := password == ""
	if generated {
		if password, err = auth.GenerateSecureToken(12); err != nil {
			return fmt.Errorf("generating password: %w", err)
		}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	owner := &store.Profile{
		ID:           uuid.New().String(),
		Email:        store.NormalizeEmail(args.email),
		Role:         store.RoleOwner,
		Status:       store.ProfileActive,
		DisplayName:  args.name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateProfile(ctx, owner); err != nil {
		return fmt.Errorf("creating owner: %w", err)
	}
	green.Printf("  ✓ Created owner: %s\n", owner.Email)

	svc := console.New(s, console.Options{BaseURL: cfg.BaseURL()})
	actor := &auth.AuthContext{
		UserID: owner.ID,
		Email:  owner.Email,
		Role:   string(owner.Role),
		Admin:  true,
		Method: auth.MethodSession,
	}
	key, err := svc.CreateAPIKey(ctx, actor, console.APIKeyInput{
		Name:   "bootstrap",
		Scopes: []string{auth.ScopeRead, auth.ScopeWrite, auth.ScopeAdmin},
	})
	if err != nil {
		// Leave no half-bootstrapped owner behind.
		_ = s.DeleteProfile(ctx, owner.ID)
		return fmt.Errorf("creating API key: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(key.Secret), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved API key: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Owner")
	cyan.Println("  -----")
	fmt.Printf("  ID:       %s\n", owner.ID)
	fmt.Printf("  Email:    %s\n", owner.Email)
	if generated {
		fmt.Printf("  Password: %s\n", password)
	}
	fmt.Printf("  Sign in:  %s/login\n", cfg.BaseURL())
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    agentdash serve        # start the server")
	fmt.Println("    agentdash-admin me     # verify your identity")
	fmt.Println()
	return nil
}

func randomSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func defaultConfig(dbPath, jwtSecret string) string {
	return fmt.Sprintf(`# agentdash configuration
# Generated by agentdash bootstrap

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)
}

func writeConfig(path, content string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("agentdash configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	baseURL := prompt(reader, "External URL (leave empty to derive)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "agentdash.db"))

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "agentdash")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Admin Access ---")
	breakGlass := prompt(reader, "Break-glass user IDs (comma separated, optional)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	jwtSecret, err := randomSecret()
	if err != nil {
		return err
	}

	var cfg strings.Builder
	cfg.WriteString("# agentdash configuration\n")
	cfg.WriteString("# Generated by agentdash init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", tsEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", jwtSecret)
	cfg.WriteString("  session_ttl: \"168h\"\n")
	cfg.WriteString("  grant_max_ttl: \"1h\"\n")
	if ids := splitList(breakGlass); len(ids) > 0 {
		cfg.WriteString("  break_glass_user_ids:\n")
		for _, id := range ids {
			fmt.Fprintf(&cfg, "    - %q\n", id)
		}
	}
	cfg.WriteString("\n")

	if baseURL != "" {
		cfg.WriteString("webadmin:\n")
		fmt.Fprintf(&cfg, "  base_url: %q\n\n", baseURL)
	}

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)

	if _, err := config.Parse([]byte(cfg.String()), config.FormatYAML); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := writeConfig(outputFile, cfg.String(), 0600); err != nil {
		return err
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  agentdash bootstrap --email you@example.com")
	fmt.Println("  agentdash serve")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
