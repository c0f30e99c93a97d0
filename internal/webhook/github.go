package webhook

import (
	"context"
	"fmt"
	"net/http"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/scm"
)

type githubRepository struct {
	ID       flexID `json:"id"`
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
}

type githubPullRequest struct {
	ID     flexID `json:"id"`
	Number int64  `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Head   struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
}

type githubPullRequestEvent struct {
	Action      string            `json:"action"`
	PullRequest githubPullRequest `json:"pull_request"`
	Repository  githubRepository  `json:"repository"`
}

type githubCommentEvent struct {
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
	Issue *struct {
		Number      int64          `json:"number"`
		PullRequest map[string]any `json:"pull_request"`
	} `json:"issue"`
	Repository githubRepository `json:"repository"`
}

func (n *Normalizer) parseGitHub(ctx context.Context, kind string, body []byte) (domain.ParseOutcome, error) {
	switch kind {
	case "pull_request":
		var payload githubPullRequestEvent
		if err := decode(body, &payload); err != nil {
			return domain.ParseOutcome{}, err
		}
		closed := payload.Action == "closed" || closedState(payload.PullRequest.State)
		return domain.Handled(n.githubEvent(payload.PullRequest, payload.Repository, closed), false), nil

	case "issue_comment":
		var payload githubCommentEvent
		if err := decode(body, &payload); err != nil {
			return domain.ParseOutcome{}, err
		}
		if payload.Issue == nil || payload.Issue.PullRequest == nil {
			return domain.Skipped(domain.ReasonCommentNotPR), nil
		}
		if !n.isRedeployCommand(payload.Comment.Body) {
			return domain.Skipped(domain.ReasonCommentNotCommand), nil
		}
		pr, err := n.fetchPullRequest(ctx, payload.Repository.FullName, payload.Issue.Number)
		if err != nil {
			n.log.Warn("pull request lookup failed", "repository", payload.Repository.FullName, "number", payload.Issue.Number, "error", err)
			return domain.Skipped(domain.ReasonMissingPullRequest), nil
		}
		return domain.Handled(n.githubEvent(pr, payload.Repository, false), true), nil
	}
	return domain.Skipped(domain.ReasonUnsupportedEvent), nil
}

func (n *Normalizer) githubEvent(pr githubPullRequest, repo githubRepository, closed bool) domain.CanonicalEvent {
	status := domain.EventOpen
	if closed {
		status = domain.EventClosed
	}
	return domain.CanonicalEvent{
		ProjectID:   repo.ID.String(),
		MRID:        pr.ID.String(),
		MRDisplayID: itoa(pr.Number),
		ProjectName: repo.FullName,
		Title:       pr.Title,
		Branch:      pr.Head.Ref,
		CommitSHA:   pr.Head.SHA,
		Author:      pr.User.Login,
		CloneURL:    n.cloneURL(repo.CloneURL, n.cfg.GitHubUsername, n.cfg.GitHubToken),
		FullName:    repo.FullName,
		Provider:    domain.ProviderGitHub,
		Status:      status,
	}
}

func (n *Normalizer) fetchPullRequest(ctx context.Context, fullName string, number int64) (githubPullRequest, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/pulls/%d", n.cfg.GitHubAPIURL, fullName, number)
	var pr githubPullRequest
	if err := n.client.Do(ctx, http.MethodGet, endpoint, scm.Headers(domain.ProviderGitHub, n.cfg.GitHubToken), nil, &pr); err != nil {
		return githubPullRequest{}, err
	}
	return pr, nil
}
