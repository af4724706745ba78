package sync

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// GitDestination commits the backup to a file in a local clone and pushes
// it to origin. It uses the git binary and whatever credentials the clone
// is configured with.
type GitDestination struct {
	repo   string
	file   string // relative to repo
	branch string
}

// NewGitDestination returns a destination writing file (default
// "mapstate.jsonl") on branch (default "main") of the clone at repo.
func NewGitDestination(repo, file, branch string) *GitDestination {
	if file == "" {
		file = "mapstate.jsonl"
	}
	if branch == "" {
		branch = "main"
	}
	return &GitDestination{repo: repo, file: file, branch: branch}
}

func (d *GitDestination) String() string { return "git:" + d.repo + "/" + d.file + "@" + d.branch }

// Write replaces the backup file and, when its content changed, commits and
// pushes it. An unchanged export leaves the history alone.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if _, err := d.run(ctx, "checkout", "-q", d.branch); err != nil {
		return err
	}
	// Fails harmlessly before the branch first reaches origin.
	_, _ = d.run(ctx, "pull", "-q", "--ff-only", "origin", d.branch)

	if err := NewFileDestination(filepath.Join(d.repo, d.file)).Write(ctx, data); err != nil {
		return err
	}
	if _, err := d.run(ctx, "add", "--", d.file); err != nil {
		return err
	}
	changed, err := d.staged(ctx)
	if err != nil || !changed {
		return err
	}

	msg := fmt.Sprintf("backup: mapstate export %s", time.Now().UTC().Format(time.RFC3339))
	if _, err := d.run(ctx, "commit", "-q", "-m", msg); err != nil {
		return err
	}
	_, err = d.run(ctx, "push", "-q", "origin", d.branch)
	return err
}

// staged reports whether the index differs from HEAD.
func (d *GitDestination) staged(ctx context.Context) (bool, error) {
	_, err := d.run(ctx, "diff", "--cached", "--quiet")
	var exit *exec.ExitError
	switch {
	case err == nil:
		return false, nil
	case errors.As(err, &exit) && exit.ExitCode() == 1:
		return true, nil
	default:
		return false, err
	}
}

// run executes one git subcommand in the clone. Errors carry the
// subcommand name and git's own output.
func (d *GitDestination) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if text != "" {
			return text, fmt.Errorf("git %s: %w: %s", args[0], err, text)
		}
		return text, fmt.Errorf("git %s: %w", args[0], err)
	}
	return text, nil
}
