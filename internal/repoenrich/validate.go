// Package repoenrich validates submitted repository URLs before the Job
// Service hands them to the Workspace Client, and optionally enriches a
// job's task context with the title and body of a linked GitHub issue.
// Both are best-effort additions: validation rejects a submission before
// any workspace is created, but issue enrichment never fails a job — a
// missing token or an unreachable API just means no enrichment happens.
package repoenrich

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	_ "github.com/go-git/go-git/v5/plumbing/transport/http"
	_ "github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// ValidateRepoURL reports whether repoURL parses as a git-transport-
// addressable endpoint (https, ssh, git, scp-like, file:// or an absolute
// local path). It performs no network access — it is a structural check
// only, run before the Job Service calls the Workspace Client so a
// malformed URL never reaches a clone attempt.
func ValidateRepoURL(repoURL string) error {
	if repoURL == "" {
		return fmt.Errorf("repoenrich: repository URL must not be empty")
	}
	ep, err := transport.NewEndpoint(repoURL)
	if err != nil {
		return fmt.Errorf("repoenrich: %q is not a valid git repository endpoint: %w", repoURL, err)
	}
	if ep.Protocol == "file" && !strings.HasPrefix(repoURL, "file://") && !filepath.IsAbs(repoURL) {
		return fmt.Errorf("repoenrich: %q is neither a URL nor an absolute local path", repoURL)
	}
	return nil
}
