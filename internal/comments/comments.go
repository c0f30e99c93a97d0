// Package comments posts deployment status comments on pull and merge requests.
package comments

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/scm"
)

// Signature marks comments written by instantiate so they can be found again.
const Signature = "<!-- instantiate-comment -->"

// Commenter publishes the status of a merge request environment.
type Commenter interface {
	PostStatusComment(ctx context.Context, ev domain.CanonicalEvent, status domain.CommentStatus, links map[string]string) error
}

// Body renders the comment text for a status.
func Body(status domain.CommentStatus, links map[string]string) string {
	var b strings.Builder
	b.WriteString(Signature)
	b.WriteString("\n")
	switch status {
	case domain.CommentInProgress:
		b.WriteString("Deployment in progress...")
	case domain.CommentReady:
		b.WriteString("Environment ready.")
		names := make([]string, 0, len(links))
		for name := range links {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "\n🔗 [%s](%s)", name, links[name])
		}
	case domain.CommentClosed:
		b.WriteString("Stack destroyed due to merge request closure.")
	case domain.CommentError:
		b.WriteString("Deployment failed.")
	default:
		b.WriteString(string(status))
	}
	return b.String()
}

// headerBase builds provider request headers from a token.
type headerBase struct {
	provider domain.Provider
	token    string
}

// headers returns false when no token is configured.
func (h headerBase) headers() (http.Header, bool) {
	if strings.TrimSpace(h.token) == "" {
		return nil, false
	}
	headers := scm.Headers(h.provider, h.token)
	headers.Set("User-Agent", "InstantiateBot")
	if h.provider == domain.ProviderGitHub {
		headers.Set("X-GitHub-Api-Version", "2022-11-28")
	} else {
		headers.Set("Accept", "application/json")
	}
	return headers, true
}

// Service selects the commenter matching an event's provider.
type Service struct {
	github Commenter
	gitlab Commenter
	log    *slog.Logger
}

// NewService combines the provider commenters.
func NewService(github, gitlab Commenter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{github: github, gitlab: gitlab, log: log.With("component", "comments")}
}

// For returns the commenter of a provider; unknown providers get a no-op commenter.
func (s *Service) For(provider domain.Provider) Commenter {
	switch provider {
	case domain.ProviderGitHub:
		if s.github != nil {
			return s.github
		}
	case domain.ProviderGitLab:
		if s.gitlab != nil {
			return s.gitlab
		}
	}
	return noop{log: s.log, provider: provider}
}

// PostStatusComment dispatches on the event provider.
func (s *Service) PostStatusComment(ctx context.Context, ev domain.CanonicalEvent, status domain.CommentStatus, links map[string]string) error {
	return s.For(ev.Provider).PostStatusComment(ctx, ev, status, links)
}

type noop struct {
	log      *slog.Logger
	provider domain.Provider
}

func (n noop) PostStatusComment(_ context.Context, ev domain.CanonicalEvent, status domain.CommentStatus, _ map[string]string) error {
	n.log.Warn("no commenter for provider, skipping comment", "provider", n.provider, "mr_id", ev.MRID, "status", status)
	return nil
}
