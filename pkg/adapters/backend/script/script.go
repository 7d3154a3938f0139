package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aescanero/cellvert/pkg/domain"
	"go.uber.org/zap"
)

// Config configures the script backend
type Config struct {
	// Dir is the working directory the scripts run in
	Dir string
	// CommitScript prints the new snapshot hash on stdout
	CommitScript string
	// RevertScript receives the hash as its first argument
	RevertScript string
	// Shell defaults to bash
	Shell   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Backend runs commit/revert shell scripts
type Backend struct {
	cfg Config
}

// NewBackend creates a script backend
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.CommitScript == "" || cfg.RevertScript == "" {
		return nil, fmt.Errorf("commit and revert scripts are required")
	}
	if cfg.Shell == "" {
		cfg.Shell = "bash"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Backend{cfg: cfg}, nil
}

// Commit runs the commit script and returns the last line it printed
func (b *Backend) Commit(ctx context.Context) (string, error) {
	stdout, err := b.run(ctx, b.cfg.CommitScript)
	if err != nil {
		return "", err
	}

	hash := lastLine(stdout)
	if hash == "" {
		return "", domain.NewError(domain.ErrCodeBackendProtocol, "", "commit script printed no hash", nil)
	}

	return hash, nil
}

// Revert runs the revert script with hash
func (b *Backend) Revert(ctx context.Context, hash string) error {
	_, err := b.run(ctx, b.cfg.RevertScript, hash)
	return err
}

func (b *Backend) run(ctx context.Context, script string, args ...string) (string, error) {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	path := script
	if !filepath.IsAbs(path) && b.cfg.Dir != "" {
		path = filepath.Join(b.cfg.Dir, path)
	}

	cmd := exec.CommandContext(ctx, b.cfg.Shell, append([]string{path}, args...)...)
	cmd.Dir = b.cfg.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	b.cfg.Logger.Debug("script finished",
		zap.String("script", filepath.Base(script)),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			msg := fmt.Sprintf("%s exited with %d", filepath.Base(script), exitErr.ExitCode())
			if s := strings.TrimSpace(stderr.String()); s != "" {
				msg = fmt.Sprintf("%s: %s", msg, s)
			}
			return "", domain.NewError(domain.ErrCodeBackendProtocol, "", msg, nil)
		}
		return "", domain.NewError(domain.ErrCodeBackendUnavailable, "", "failed to run "+filepath.Base(script), err)
	}

	if s := strings.TrimSpace(stderr.String()); s != "" {
		b.cfg.Logger.Warn("script wrote to stderr",
			zap.String("script", filepath.Base(script)),
			zap.String("stderr", s))
	}

	return stdout.String(), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
