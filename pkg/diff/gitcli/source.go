// Package gitcli implements diff.Source against a local git checkout.
package gitcli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/quartzci/quartz/pkg/diff"
)

// commandRunner executes a git invocation and returns combined stdout.
// Extracted for tests; the default runner shells out via os/exec.
type commandRunner func(ctx context.Context, dir string, args ...string) (string, error)

// Source detects changed files by running git in a local checkout.
type Source struct {
	dir string
	run commandRunner
}

// Config configures a gitcli Source.
type Config struct {
	// Dir is the repository checkout directory. Required.
	Dir string
}

// New creates a Source for the given checkout directory.
func New(cfg Config) (*Source, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("checkout dir is required")
	}
	return &Source{dir: cfg.Dir, run: execGit}, nil
}

// ChangedFiles runs `git diff --name-only base...head` and returns the
// reported paths.
//
// The three-dot form compares head against the merge base, matching how
// pull-request ranges are evaluated. Unknown revisions and shallow history
// surface as diff.ErrRangeUnresolvable so callers fail open.
func (s *Source) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	if strings.TrimSpace(base) == "" || strings.TrimSpace(head) == "" {
		return nil, s.wrapError(base, head, diff.ErrRangeUnresolvable)
	}

	out, err := s.run(ctx, s.dir, "diff", "--name-only", base+"..."+head)
	if err != nil {
		if isUnresolvableRange(err) {
			return nil, s.wrapError(base, head, fmt.Errorf("%w: %v", diff.ErrRangeUnresolvable, err))
		}
		return nil, s.wrapError(base, head, err)
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

func (s *Source) wrapError(base, head string, err error) error {
	return &diff.SourceError{
		Op:     "ChangedFiles",
		Source: diff.SourceGitCLI,
		Base:   base,
		Head:   head,
		Err:    err,
	}
}

// isUnresolvableRange classifies git failures that mean the range cannot be
// compared (as opposed to git itself being broken).
func isUnresolvableRange(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"unknown revision",
		"bad revision",
		"no merge base",
		"ambiguous argument",
		"shallow",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// execGit is the default commandRunner.
func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
