// Package placeholder resolves ${...} placeholders in server configuration
// strings before connection establishment. Supported forms are ${NAME},
// ${env:NAME}, ${cmd: shell command}, ${input:id} and a set of predefined
// workspace variables. Placeholders may nest; inner placeholders are
// resolved before the enclosing lookup or command execution.
package placeholder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"mcphub/pkg/logging"
)

const (
	// DefaultCommandTimeout bounds ${cmd:} execution.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultMaxDepth terminates placeholder cycles.
	DefaultMaxDepth = 10
)

// ErrDepthExceeded signals a placeholder nesting (or cycle) beyond the
// configured depth cap.
var ErrDepthExceeded = errors.New("placeholder nesting too deep")

// UnresolvedError reports a placeholder that could not be resolved in
// strict mode. Placeholder holds the literal `${...}` text.
type UnresolvedError struct {
	Placeholder string
	Cause       error
}

func (e *UnresolvedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to resolve placeholder %q: %v", e.Placeholder, e.Cause)
	}
	return fmt.Sprintf("failed to resolve placeholder %q", e.Placeholder)
}

func (e *UnresolvedError) Unwrap() error {
	return e.Cause
}

// Resolver resolves placeholders against a Context. In strict mode (the
// default for the hub) unresolved placeholders and failing commands abort
// resolution; otherwise they are left literal.
type Resolver struct {
	strict         bool
	commandTimeout time.Duration
	maxDepth       int
}

// New creates a resolver. Strict mode is the caller's choice; the hub
// always runs strict.
func New(strict bool) *Resolver {
	return &Resolver{
		strict:         strict,
		commandTimeout: DefaultCommandTimeout,
		maxDepth:       DefaultMaxDepth,
	}
}

// SetCommandTimeout overrides the ${cmd:} execution timeout.
func (r *Resolver) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		r.commandTimeout = d
	}
}

// ResolveString resolves every placeholder in a single string field
// (url, command, cwd).
func (r *Resolver) ResolveString(ctx context.Context, s string, rc *Context) (string, error) {
	return r.resolve(ctx, s, rc, 0)
}

// ResolveArgs resolves each argument independently, preserving order.
// A bare legacy `$NAME` token is still accepted with a deprecation warning.
func (r *Resolver) ResolveArgs(ctx context.Context, args []string, rc *Context) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	resolved := make([]string, 0, len(args))
	for _, arg := range args {
		if name, ok := legacyVarName(arg); ok {
			logging.Warn("Placeholder", "legacy $%s syntax in args is deprecated, use ${%s}", name, name)
			value, found := rc.Lookup(name)
			if !found {
				if r.strict {
					return nil, &UnresolvedError{Placeholder: arg}
				}
				resolved = append(resolved, arg)
				continue
			}
			resolved = append(resolved, value)
			continue
		}
		value, err := r.resolve(ctx, arg, rc, 0)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, value)
	}
	return resolved, nil
}

// ResolveEnv resolves an env mapping in one pass. Nil or empty values fall
// back to the process environment. The legacy `$: command` value form is
// executed like ${cmd:} with a deprecation warning.
func (r *Resolver) ResolveEnv(ctx context.Context, env map[string]*string, rc *Context) (map[string]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	resolved := make(map[string]string, len(env))
	for key, value := range env {
		if value == nil || *value == "" {
			resolved[key] = os.Getenv(key)
			continue
		}
		raw := *value
		if cmd, ok := strings.CutPrefix(raw, "$: "); ok {
			logging.Warn("Placeholder", "legacy \"$: cmd\" syntax in env %s is deprecated, use ${cmd: ...}", key)
			out, err := r.executeCommand(ctx, cmd, raw)
			if err != nil {
				if r.strict {
					return nil, err
				}
				resolved[key] = raw
				continue
			}
			resolved[key] = out
			continue
		}
		out, err := r.resolve(ctx, raw, rc, 0)
		if err != nil {
			return nil, err
		}
		resolved[key] = out
	}
	return resolved, nil
}

// ResolveHeaders resolves each header value.
func (r *Resolver) ResolveHeaders(ctx context.Context, headers map[string]string, rc *Context) (map[string]string, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	resolved := make(map[string]string, len(headers))
	for key, value := range headers {
		out, err := r.resolve(ctx, value, rc, 0)
		if err != nil {
			return nil, err
		}
		resolved[key] = out
	}
	return resolved, nil
}

// resolve walks the string once, substituting every balanced ${...} span.
// Inner content is resolved recursively before evaluation so nested
// placeholders like ${env:${PREFIX}_TOKEN} work.
func (r *Resolver) resolve(ctx context.Context, s string, rc *Context, depth int) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	if depth >= r.maxDepth {
		if r.strict {
			return "", &UnresolvedError{Placeholder: s, Cause: ErrDepthExceeded}
		}
		return s, nil
	}

	var out strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			out.WriteString(s[i:])
			break
		}
		start += i
		out.WriteString(s[i:start])

		end, ok := matchClosingBrace(s, start+2)
		if !ok {
			// Unterminated placeholder, keep the rest literal.
			out.WriteString(s[start:])
			break
		}

		literal := s[start : end+1]
		content := s[start+2 : end]

		inner, err := r.resolve(ctx, content, rc, depth+1)
		if err != nil {
			return "", err
		}

		value, err := r.evaluate(ctx, inner, rc, depth)
		if err != nil {
			if r.strict {
				var unresolved *UnresolvedError
				if errors.As(err, &unresolved) {
					return "", err
				}
				return "", &UnresolvedError{Placeholder: literal, Cause: err}
			}
			value = literal
		} else if strings.Contains(value, "${") {
			// Resolved values may themselves contain placeholders; the
			// depth cap terminates cycles.
			value, err = r.resolve(ctx, value, rc, depth+1)
			if err != nil {
				return "", err
			}
		}
		out.WriteString(value)
		i = end + 1
	}
	return out.String(), nil
}

// evaluate resolves the inner content of a single placeholder.
func (r *Resolver) evaluate(ctx context.Context, content string, rc *Context, depth int) (string, error) {
	switch {
	case strings.HasPrefix(content, "cmd:"):
		command := strings.TrimSpace(strings.TrimPrefix(content, "cmd:"))
		if command == "" {
			return "", &UnresolvedError{Placeholder: "${" + content + "}", Cause: errors.New("empty command")}
		}
		return r.executeCommand(ctx, command, "${"+content+"}")

	case strings.HasPrefix(content, "env:"):
		name := strings.TrimPrefix(content, "env:")
		if value, ok := rc.Lookup(name); ok {
			return value, nil
		}
		return "", &UnresolvedError{Placeholder: "${" + content + "}"}

	case strings.HasPrefix(content, "input:"):
		if value, ok := rc.Lookup(content); ok {
			return value, nil
		}
		return "", &UnresolvedError{Placeholder: "${" + content + "}"}

	default:
		if value, ok := rc.Lookup(content); ok {
			return value, nil
		}
		return "", &UnresolvedError{Placeholder: "${" + content + "}"}
	}
}

// executeCommand runs a ${cmd:} command through the shell and returns its
// trimmed stdout. The literal placeholder is carried for error reporting.
func (r *Resolver) executeCommand(ctx context.Context, command, literal string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		if cctx.Err() != nil {
			err = fmt.Errorf("command timed out after %s: %w", r.commandTimeout, err)
		}
		return "", &UnresolvedError{Placeholder: literal, Cause: err}
	}
	return strings.TrimSpace(string(out)), nil
}

// matchClosingBrace finds the `}` matching the `${` that opened at pos-2,
// accounting for nested `${` spans. Returns the index of the closing brace.
func matchClosingBrace(s string, pos int) (int, bool) {
	depth := 1
	for i := pos; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "${"):
			depth++
			i++
		case s[i] == '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// legacyVarName reports whether an argument token is the legacy bare $NAME
// form and returns the variable name.
func legacyVarName(arg string) (string, bool) {
	if len(arg) < 2 || arg[0] != '$' || arg[1] == '{' || arg[1] == ':' {
		return "", false
	}
	name := arg[1:]
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return "", false
			}
		default:
			return "", false
		}
	}
	return name, true
}
