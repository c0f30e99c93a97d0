package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/scm"
)

type gitlabProject struct {
	ID                flexID `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	GitHTTPURL        string `json:"git_http_url"`
	WebURL            string `json:"web_url"`
}

type gitlabMergeRequest struct {
	ID           flexID `json:"id"`
	IID          int64  `json:"iid"`
	Title        string `json:"title"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
	SHA          string `json:"sha"`
	LastCommit   struct {
		ID string `json:"id"`
	} `json:"last_commit"`
	AuthorID flexID `json:"author_id"`
	Author   struct {
		Username string `json:"username"`
	} `json:"author"`
}

type gitlabMergeRequestEvent struct {
	ObjectAttributes gitlabMergeRequest `json:"object_attributes"`
	Project          gitlabProject      `json:"project"`
	User             struct {
		Username string `json:"username"`
	} `json:"user"`
}

type gitlabNoteEvent struct {
	ObjectAttributes struct {
		Note         string `json:"note"`
		NoteableType string `json:"noteable_type"`
	} `json:"object_attributes"`
	MergeRequest *gitlabMergeRequest `json:"merge_request"`
	Project      gitlabProject       `json:"project"`
}

func (n *Normalizer) parseGitLab(ctx context.Context, kind string, body []byte) (domain.ParseOutcome, error) {
	switch kind {
	case "Merge Request Hook":
		var payload gitlabMergeRequestEvent
		if err := decode(body, &payload); err != nil {
			return domain.ParseOutcome{}, err
		}
		mr := payload.ObjectAttributes
		if mr.Author.Username == "" {
			mr.Author.Username = payload.User.Username
		}
		return domain.Handled(n.gitlabEvent(mr, payload.Project, closedState(mr.State)), false), nil

	case "Note Hook":
		var payload gitlabNoteEvent
		if err := decode(body, &payload); err != nil {
			return domain.ParseOutcome{}, err
		}
		if payload.ObjectAttributes.NoteableType != "MergeRequest" {
			return domain.Skipped(domain.ReasonUnsupportedNoteable), nil
		}
		if payload.MergeRequest == nil {
			return domain.Skipped(domain.ReasonCommentNotPR), nil
		}
		if !n.isRedeployCommand(payload.ObjectAttributes.Note) {
			return domain.Skipped(domain.ReasonCommentNotCommand), nil
		}
		mr, err := n.fetchMergeRequest(ctx, payload.Project, payload.MergeRequest.IID)
		if err != nil {
			n.log.Warn("merge request lookup failed", "project", payload.Project.ID, "iid", payload.MergeRequest.IID, "error", err)
			return domain.Skipped(domain.ReasonMissingMergeRequest), nil
		}
		return domain.Handled(n.gitlabEvent(mr, payload.Project, false), true), nil
	}
	return domain.Skipped(domain.ReasonUnsupportedEvent), nil
}

func (n *Normalizer) gitlabEvent(mr gitlabMergeRequest, project gitlabProject, closed bool) domain.CanonicalEvent {
	status := domain.EventOpen
	if closed {
		status = domain.EventClosed
	}
	sha := mr.LastCommit.ID
	if sha == "" {
		sha = mr.SHA
	}
	author := mr.Author.Username
	if author == "" {
		author = mr.AuthorID.String()
	}
	name := project.PathWithNamespace
	if name == "" {
		name = project.Name
	}
	return domain.CanonicalEvent{
		ProjectID:   project.ID.String(),
		MRID:        mr.ID.String(),
		MRDisplayID: itoa(mr.IID),
		ProjectName: name,
		Title:       mr.Title,
		Branch:      mr.SourceBranch,
		CommitSHA:   sha,
		Author:      author,
		CloneURL:    n.cloneURL(project.GitHTTPURL, n.cfg.GitLabUsername, n.cfg.GitLabToken),
		FullName:    project.PathWithNamespace,
		Provider:    domain.ProviderGitLab,
		Status:      status,
	}
}

func (n *Normalizer) fetchMergeRequest(ctx context.Context, project gitlabProject, iid int64) (gitlabMergeRequest, error) {
	base, err := gitlabBaseURL(project)
	if err != nil {
		return gitlabMergeRequest{}, err
	}
	endpoint := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests/%d", base, url.PathEscape(project.ID.String()), iid)
	var mr gitlabMergeRequest
	if err := n.client.Do(ctx, http.MethodGet, endpoint, scm.Headers(domain.ProviderGitLab, n.cfg.GitLabToken), nil, &mr); err != nil {
		return gitlabMergeRequest{}, err
	}
	return mr, nil
}

// gitlabBaseURL derives scheme://host of the GitLab instance from the project URLs.
func gitlabBaseURL(project gitlabProject) (string, error) {
	for _, raw := range []string{project.WebURL, project.GitHTTPURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		return u.Scheme + "://" + u.Host, nil
	}
	return "", errors.New("gitlab project url missing")
}
