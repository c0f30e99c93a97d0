package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/scm"
	"github.com/splax/instantiate/pkg/crypto"
	"github.com/splax/instantiate/pkg/jwt"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

const defaultAPIBase = "http://localhost:3000"

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
	case "token":
		err = commandToken(args)
	case "hash-key":
		err = commandHashKey(args)
	case "stacks":
		err = commandStacks(args)
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

// prompt reads a secret without echo when stdin is a terminal.
func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	defer fmt.Fprint(os.Stderr, "\n")
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		var line string
		if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
			return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(label, ": "), err)
		}
		return strings.TrimSpace(line), nil
	}
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(label, ": "), err)
	}
	return strings.TrimSpace(string(bytes)), nil
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPIBase+")")
	token := fs.String("token", "", "API token (supply to avoid prompt)")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		var err error
		if secret, err = prompt("Token: "); err != nil {
			return err
		}
	}
	if secret == "" {
		return errors.New("token is required")
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = strings.TrimRight(*apiBase, "/")
	}
	cfg.AccessToken = secret
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("credentials saved")
	return nil
}

func commandToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "operator", "Token subject")
	projectID := fs.String("project", "", "Restrict the token to one project")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "Token lifetime (0 for no expiry)")
	save := fs.Bool("save", false, "Store the token in the CLI config")
	fs.Parse(args)

	secret := strings.TrimSpace(os.Getenv("API_JWT_SECRET"))
	if secret == "" {
		var err error
		if secret, err = prompt("API_JWT_SECRET: "); err != nil {
			return err
		}
	}
	token, err := jwt.GenerateToken(*subject, *projectID, secret, *ttl)
	if err != nil {
		return err
	}
	if *save {
		cfg, _ := loadConfig()
		cfg.AccessToken = token
		if err := saveConfig(cfg); err != nil {
			return err
		}
	}
	fmt.Println(token)
	return nil
}

func commandHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ExitOnError)
	key := fs.String("key", "", "Project key (supply to avoid prompt)")
	fs.Parse(args)

	plain := strings.TrimSpace(*key)
	if plain == "" {
		var err error
		if plain, err = prompt("Project key: "); err != nil {
			return err
		}
	}
	if plain == "" {
		return errors.New("project key is required")
	}
	hash, err := crypto.HashKey(plain)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func commandStacks(args []string) error {
	fs := flag.NewFlagSet("stacks", flag.ExitOnError)
	projectID := fs.String("project", "", "Only list stacks of this project")
	asJSON := fs.Bool("json", false, "Print raw JSON")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	endpoint := cfg.APIBaseURL + "/api/stacks"
	if p := strings.TrimSpace(*projectID); p != "" {
		endpoint += "?project_id=" + url.QueryEscape(p)
	}
	headers := http.Header{}
	if token := strings.TrimSpace(cfg.AccessToken); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var stacks []domain.StackRecord
	if err := scm.New().Do(ctx, http.MethodGet, endpoint, headers, nil, &stacks); err != nil {
		var apiErr scm.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return errors.New("unauthorized, run 'instantiatectl login' or 'instantiatectl token --save'")
		}
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stacks)
	}
	for _, s := range stacks {
		names := make([]string, 0, len(s.Links))
		for name := range s.Links {
			names = append(names, name)
		}
		sort.Strings(names)
		links := make([]string, 0, len(names))
		for _, name := range names {
			links = append(links, name+"="+s.Links[name])
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\n", s.ProjectID, s.MRID, s.Status, s.MRName, s.UpdatedAt.Format(time.RFC3339), strings.Join(links, ","))
	}
	return nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBase}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
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
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "instantiate", "config.json"), nil
}

func printUsage() {
	fmt.Printf("instantiatectl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	instantiatectl login [--api http://localhost:3000] [--token <jwt>]
	instantiatectl token [--subject name] [--project <project-id>] [--ttl 720h] [--save]
	instantiatectl hash-key [--key <project-key>]
	instantiatectl stacks [--project <project-id>] [--json]
	instantiatectl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
