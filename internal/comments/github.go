package comments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/repository"
	"github.com/splax/instantiate/internal/scm"
)

// GitHub edits a single status comment in place, remembering its id.
type GitHub struct {
	headerBase
	client *scm.Client
	apiURL string
	store  repository.CommentRepository
	log    *slog.Logger
}

// NewGitHub constructs the GitHub commenter.
func NewGitHub(client *scm.Client, apiURL, token string, store repository.CommentRepository, log *slog.Logger) *GitHub {
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}
	if client == nil {
		client = scm.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &GitHub{
		headerBase: headerBase{provider: domain.ProviderGitHub, token: token},
		client:     client,
		apiURL:     strings.TrimRight(apiURL, "/"),
		store:      store,
		log:        log.With("component", "github-comment"),
	}
}

type githubComment struct {
	ID int64 `json:"id"`
}

// PostStatusComment updates the stored comment or creates a new one.
func (g *GitHub) PostStatusComment(ctx context.Context, ev domain.CanonicalEvent, status domain.CommentStatus, links map[string]string) error {
	headers, ok := g.headers()
	if !ok {
		g.log.Warn("github token not found, skipping comment", "mr_id", ev.MRID)
		return nil
	}
	owner, repo, err := splitFullName(ev.FullName)
	if err != nil {
		return err
	}
	body := map[string]string{"body": Body(status, links)}

	existing, err := g.store.GetCommentID(ctx, ev.ProjectID, ev.MRID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("load comment id: %w", err)
	}
	if existing != "" {
		endpoint := fmt.Sprintf("%s/repos/%s/%s/issues/comments/%s", g.apiURL, owner, repo, existing)
		err := g.client.Do(ctx, http.MethodPatch, endpoint, headers, body, nil)
		if err == nil {
			g.log.Info("updated status comment", "status", status, "pr", ev.MRDisplayID)
			return nil
		}
		var apiErr scm.APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
			return fmt.Errorf("update comment: %w", err)
		}
		g.log.Info("stored comment vanished, posting a new one", "comment_id", existing)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues/%s/comments", g.apiURL, owner, repo, ev.MRDisplayID)
	var created githubComment
	if err := g.client.Do(ctx, http.MethodPost, endpoint, headers, body, &created); err != nil {
		return fmt.Errorf("post comment: %w", err)
	}
	if err := g.store.SetCommentID(ctx, ev.ProjectID, ev.MRID, strconv.FormatInt(created.ID, 10)); err != nil {
		return fmt.Errorf("store comment id: %w", err)
	}
	g.log.Info("posted status comment", "status", status, "pr", ev.MRDisplayID)
	return nil
}

func splitFullName(fullName string) (string, string, error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid github repository name %q", fullName)
	}
	return parts[0], parts[1], nil
}
