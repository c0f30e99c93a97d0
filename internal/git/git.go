// Package git clones repositories with the git CLI and probes remotes with go-git.
package git

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/splax/instantiate/internal/shell"
)

// Client clones and inspects remote repositories.
type Client struct {
	runner   shell.Runner
	insecure bool
}

// New constructs a Client. insecure disables TLS verification for clones and probes.
func New(runner shell.Runner, insecure bool) *Client {
	return &Client{runner: runner, insecure: insecure}
}

// Clone checks out branch of repoURL into dest.
func (c *Client) Clone(ctx context.Context, repoURL, branch, dest string) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	args := []string{}
	if c.insecure {
		args = append(args, "-c", "http.sslVerify=false")
	}
	args = append(args, "clone")
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, dest)

	cmd := shell.Command{
		Name:   "git",
		Args:   args,
		Env:    []string{"GIT_TERMINAL_PROMPT=0"},
		Redact: secretsOf(repoURL),
	}
	if err := c.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}

// RemoteBranchExists reports whether the remote advertises refs/heads/<branch>.
func (c *Client) RemoteBranchExists(ctx context.Context, repoURL, branch string) (bool, error) {
	if branch == "" {
		return false, nil
	}
	endpoint, auth, err := splitCredentials(repoURL)
	if err != nil {
		return false, err
	}
	remote := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{Name: "origin", URLs: []string{endpoint}})
	opts := &gogit.ListOptions{InsecureSkipTLS: c.insecure}
	if auth != nil {
		opts.Auth = auth
	}
	refs, err := remote.ListContext(ctx, opts)
	if err != nil {
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return false, nil
		}
		return false, fmt.Errorf("list remote refs: %w", err)
	}
	want := "refs/heads/" + branch
	for _, ref := range refs {
		if ref.Name().String() == want {
			return true, nil
		}
	}
	return false, nil
}

// splitCredentials moves http(s) userinfo into go-git basic auth.
func splitCredentials(raw string) (string, transport.AuthMethod, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse repository url: %w", err)
	}
	if u.User == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return raw, nil, nil
	}
	password, _ := u.User.Password()
	auth := &githttp.BasicAuth{Username: u.User.Username(), Password: password}
	u.User = nil
	return u.String(), auth, nil
}

func secretsOf(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return nil
	}
	if password, ok := u.User.Password(); ok && password != "" {
		return []string{password}
	}
	return nil
}
