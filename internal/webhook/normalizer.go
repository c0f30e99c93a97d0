// Package webhook turns GitHub and GitLab webhook deliveries into canonical
// merge request events.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/scm"
)

// Header names carrying the event kind.
const (
	GitHubEventHeader = "X-GitHub-Event"
	GitLabEventHeader = "X-Gitlab-Event"
)

// Config carries provider credentials and rewrite options.
type Config struct {
	RedeployCommand string
	Development     bool
	DevHostAlias    string

	GitHubUsername string
	GitHubToken    string
	GitHubAPIURL   string
	GitLabUsername string
	GitLabToken    string
}

// Normalizer parses provider payloads.
type Normalizer struct {
	cfg    Config
	client *scm.Client
	log    *slog.Logger
}

// New constructs a Normalizer.
func New(cfg Config, client *scm.Client, log *slog.Logger) *Normalizer {
	if strings.TrimSpace(cfg.RedeployCommand) == "" {
		cfg.RedeployCommand = "instantiate deploy"
	}
	if cfg.DevHostAlias == "" {
		cfg.DevHostAlias = "host.docker.internal"
	}
	if cfg.GitHubAPIURL == "" {
		cfg.GitHubAPIURL = "https://api.github.com"
	}
	cfg.GitHubAPIURL = strings.TrimRight(cfg.GitHubAPIURL, "/")
	if client == nil {
		client = scm.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{cfg: cfg, client: client, log: log.With("component", "webhook")}
}

// DetectProvider returns the provider and event kind announced by the request headers.
func DetectProvider(h http.Header) (domain.Provider, string, bool) {
	if kind := h.Get(GitLabEventHeader); kind != "" {
		return domain.ProviderGitLab, kind, true
	}
	if kind := h.Get(GitHubEventHeader); kind != "" {
		return domain.ProviderGitHub, kind, true
	}
	return "", "", false
}

// Parse normalizes one webhook delivery. Malformed JSON is an error; every
// other reason for not acting is reported as a skipped outcome.
func (n *Normalizer) Parse(ctx context.Context, provider domain.Provider, kind string, body []byte) (domain.ParseOutcome, error) {
	switch provider {
	case domain.ProviderGitHub:
		return n.parseGitHub(ctx, kind, body)
	case domain.ProviderGitLab:
		return n.parseGitLab(ctx, kind, body)
	default:
		return domain.Skipped(domain.ReasonUnsupportedEvent), nil
	}
}

func (n *Normalizer) isRedeployCommand(body string) bool {
	return strings.EqualFold(strings.TrimSpace(body), strings.TrimSpace(n.cfg.RedeployCommand))
}

// cloneURL applies the development host rewrite and credential injection.
func (n *Normalizer) cloneURL(raw, username, token string) string {
	url := raw
	if n.cfg.Development {
		url = strings.ReplaceAll(url, "localhost", n.cfg.DevHostAlias)
	}
	return InjectCredentials(url, username, token)
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}
	return nil
}

// flexID accepts identifiers encoded either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*f = flexID(num.String())
	return nil
}

func (f flexID) String() string { return string(f) }

func closedState(state string) bool {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "closed", "merged":
		return true
	}
	return false
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
