// Package directory resolves directory group members for the
// reconciliation engine, either live through an external command or from
// cached snapshots.
package directory

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
	"github.com/securelens/securelens/internal/infrastructure/config"
	"github.com/securelens/securelens/internal/infrastructure/telemetry"
)

const (
	serviceName      = "directory"
	groupPlaceholder = "{group}"

	DefaultNotFoundMarker = "Cannot find an object with identity"
)

// CommandResolver runs an external command per group and reads one
// username per line from its stdout.
type CommandResolver struct {
	command        string
	args           []string
	timeout        time.Duration
	notFoundMarker string
	logger         *zap.Logger
	tracer         trace.Tracer
}

// NewCommandResolver builds a resolver from the directory config. Every
// occurrence of {group} in the arguments is replaced with the group name.
func NewCommandResolver(cfg config.DirectoryConfig, logger *zap.Logger) (*CommandResolver, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.NewConfigurationError("directory.command", "a directory command is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	marker := cfg.NotFoundMarker
	if marker == "" {
		marker = DefaultNotFoundMarker
	}
	return &CommandResolver{
		command:        cfg.Command,
		args:           cfg.Args,
		timeout:        cfg.Timeout,
		notFoundMarker: marker,
		logger:         logger.With(zap.String("component", serviceName)),
		tracer:         otel.Tracer("github.com/securelens/securelens/directory"),
	}, nil
}

func (r *CommandResolver) ResolveGroupMembers(ctx context.Context, groupName string) ([]string, error) {
	ctx, span := telemetry.StartDirectorySpan(ctx, r.tracer, groupName)
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := make([]string, len(r.args))
	for i, a := range r.args {
		args[i] = strings.ReplaceAll(a, groupPlaceholder, groupName)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// grandchildren can keep the output pipes open after a kill
	cmd.WaitDelay = 500 * time.Millisecond

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("Directory lookup",
		zap.String("group", groupName),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("failed", err != nil),
	)

	if err != nil {
		errText := strings.TrimSpace(stderr.String())
		if strings.Contains(errText, r.notFoundMarker) {
			span.SetAttributes(attribute.Bool("directory.group_found", false))
			return nil, fmt.Errorf("group %q: %w", groupName, elevation.ErrGroupNotFound)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		telemetry.RecordError(span, err)
		appErr := errors.NewExternalError(serviceName, fmt.Sprintf("resolving group %q failed", groupName)).WithCause(err)
		if errText != "" {
			appErr.Details["stderr"] = truncate(errText, 512)
		}
		if stderrors.Is(err, context.Canceled) {
			appErr.Retryable = false
		}
		return nil, appErr
	}

	members := parseMembers(stdout.Bytes())
	span.SetAttributes(attribute.Int("directory.members", len(members)))
	return members, nil
}

// parseMembers returns the non-blank, trimmed lines of out.
func parseMembers(out []byte) []string {
	members := []string{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			members = append(members, line)
		}
	}
	return members
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ elevation.GroupMembershipProvider = (*CommandResolver)(nil)
