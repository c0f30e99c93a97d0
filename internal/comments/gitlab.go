package comments

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/scm"
)

// GitLab replaces previous status notes with a fresh one.
type GitLab struct {
	headerBase
	client *scm.Client
	log    *slog.Logger
}

// NewGitLab constructs the GitLab commenter.
func NewGitLab(client *scm.Client, token string, log *slog.Logger) *GitLab {
	if client == nil {
		client = scm.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &GitLab{
		headerBase: headerBase{provider: domain.ProviderGitLab, token: token},
		client:     client,
		log:        log.With("component", "gitlab-comment"),
	}
}

type gitlabNote struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// PostStatusComment deletes signed notes then posts the new status.
func (g *GitLab) PostStatusComment(ctx context.Context, ev domain.CanonicalEvent, status domain.CommentStatus, links map[string]string) error {
	headers, ok := g.headers()
	if !ok {
		g.log.Warn("gitlab token not found, skipping comment", "mr_id", ev.MRID)
		return nil
	}
	apiURL, err := gitlabAPIURL(ev.CloneURL)
	if err != nil {
		return err
	}
	notesURL := fmt.Sprintf("%s/projects/%s/merge_requests/%s/notes", apiURL, url.PathEscape(ev.ProjectID), ev.MRDisplayID)

	g.removePrevious(ctx, notesURL, headers)

	body := map[string]string{"body": Body(status, links)}
	if err := g.client.Do(ctx, http.MethodPost, notesURL, headers, body, nil); err != nil {
		return fmt.Errorf("post note: %w", err)
	}
	g.log.Info("posted status comment", "status", status, "mr", ev.MRDisplayID)
	return nil
}

// removePrevious is best effort; listing or deletion failures only get logged.
func (g *GitLab) removePrevious(ctx context.Context, notesURL string, headers http.Header) {
	var notes []gitlabNote
	if err := g.client.Do(ctx, http.MethodGet, notesURL, headers, nil, &notes); err != nil {
		g.log.Warn("unable to list notes", "error", err)
		return
	}
	for _, note := range notes {
		if !strings.Contains(note.Body, Signature) {
			continue
		}
		endpoint := fmt.Sprintf("%s/%d", notesURL, note.ID)
		if err := g.client.Do(ctx, http.MethodDelete, endpoint, headers, nil, nil); err != nil {
			g.log.Warn("unable to delete previous note", "note_id", note.ID, "error", err)
			continue
		}
		g.log.Info("deleted previous comment", "note_id", note.ID)
	}
}

// gitlabAPIURL derives {scheme}://{host}/api/v4 from a clone URL, dropping credentials.
func gitlabAPIURL(cloneURL string) (string, error) {
	u, err := url.Parse(cloneURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid gitlab project url %q", redact(cloneURL))
	}
	return u.Scheme + "://" + u.Host + "/api/v4", nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
