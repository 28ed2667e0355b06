package repoenrich

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/orchestrator/internal/config"
)

// Issue is the subset of a GitHub issue folded into task context.
type Issue struct {
	Title string
	Body  string
}

// Enricher fetches GitHub issue text to fold into the RepoMapper/Planner
// task-context block. A zero-value Enricher (no token configured) makes
// FetchIssue a no-op error rather than a panic, so callers can construct
// one unconditionally and only check IsEnabled if they want to skip work
// early.
type Enricher struct {
	client  *github.Client
	timeout time.Duration
	logger  *zap.Logger
	enabled bool
}

// New builds an Enricher. Without a configured GitHubToken it returns a
// disabled Enricher — fetch_issue then always returns an error explaining
// no token is configured, rather than attempting an unauthenticated call
// that GitHub's rate limits would quickly punish.
func New(cfg config.RepoEnrichConfig, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.GitHubToken.IsSet() {
		return &Enricher{logger: logger}
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHubToken.Value()})
	tc := oauth2.NewClient(context.Background(), ts)
	return &Enricher{client: github.NewClient(tc), timeout: cfg.Timeout.Duration(), logger: logger, enabled: true}
}

// IsEnabled reports whether a GitHub token was configured.
func (e *Enricher) IsEnabled() bool {
	return e.enabled
}

// FetchIssue fetches the title and body of the GitHub issue at issueURL,
// e.g. "https://github.com/owner/repo/issues/123".
func (e *Enricher) FetchIssue(ctx context.Context, issueURL string) (*Issue, error) {
	if !e.enabled {
		return nil, fmt.Errorf("repoenrich: no GitHub token configured")
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	owner, repo, number, err := parseIssueURL(issueURL)
	if err != nil {
		return nil, err
	}

	issue, _, err := e.client.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("repoenrich: fetching issue %s: %w", issueURL, err)
	}

	return &Issue{Title: issue.GetTitle(), Body: issue.GetBody()}, nil
}

// parseIssueURL extracts owner, repo, and issue number from a GitHub
// issue URL of the form "https://github.com/{owner}/{repo}/issues/{n}".
func parseIssueURL(issueURL string) (owner, repo string, number int, err error) {
	parsed, err := url.Parse(issueURL)
	if err != nil {
		return "", "", 0, fmt.Errorf("repoenrich: %q is not a valid URL: %w", issueURL, err)
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) != 4 || parts[2] != "issues" {
		return "", "", 0, fmt.Errorf("repoenrich: %q is not a GitHub issue URL of the form https://github.com/{owner}/{repo}/issues/{n}", issueURL)
	}

	number, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("repoenrich: %q has a non-numeric issue number: %w", issueURL, err)
	}

	return parts[0], parts[1], number, nil
}
