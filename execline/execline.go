// -*- Mode: Go; indent-tabs-mode: t -*-

// Package execline tokenizes and expands freedesktop-style Exec= command
// lines against a URI list, the way the legacy desktop-exec.c helper and
// the Job Manager's parseExec both need to (spec.md §4.2).
package execline

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mardy/ubuntu-app-launch/logger"
	"github.com/mardy/ubuntu-app-launch/strutil/shlex"
)

// ErrMalformed is returned when the template's shell-style quoting cannot
// be parsed (e.g. an unterminated quote).
var ErrMalformed = errors.New("execline: malformed template")

// ErrEmpty is returned when, after %-code expansion, no argv tokens
// remain.
var ErrEmpty = errors.New("execline: no tokens after expansion")

// Context supplies the values the %i/%c/%k codes expand to. A zero
// Context is valid and makes all three codes expand to nothing, matching
// a store that has no desktop-file concept (spec.md §4.2).
type Context struct {
	// Icon is substituted for %i, prefixed with "--icon " the way
	// desktop-file launchers pass it, or empty if unset.
	Icon string
	// Name is substituted for %c. Callers resolving it from a .desktop
	// file should pass the locale-appropriate Name[xx] value (see
	// desktop/desktopentry's localizedName), not the raw key.
	Name string
	// DesktopFile is substituted for %k.
	DesktopFile string
}

// deprecatedCodes expand to nothing but never error (spec.md §4.2 table).
var deprecatedCodes = map[rune]bool{
	'd': true, 'D': true, 'n': true, 'N': true, 'v': true, 'm': true,
}

// expandCodes performs the single-pass %-code substitution described by
// spec.md's table, returning a plain string to be shell-tokenized next.
// Substituted URIs are emitted as-is: the spec is explicit that they
// arrive pre-escaped and must not be re-quoted.
func expandCodes(tmpl string, uris []string, ctx Context) (string, error) {
	var buf bytes.Buffer
	runes := []rune(tmpl)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '%' {
			buf.WriteRune(r)
			continue
		}
		i++
		if i >= len(runes) {
			return "", fmt.Errorf("%w: trailing %%", ErrMalformed)
		}
		code := runes[i]
		switch {
		case code == '%':
			buf.WriteRune('%')
		case code == 'f' || code == 'F':
			// Deferred per spec.md §4.2: every URI is emitted as-is,
			// space joined; file URIs are not translated to paths.
			writeJoined(&buf, uris)
		case code == 'u':
			if len(uris) > 0 {
				buf.WriteString(uris[0])
			}
		case code == 'U':
			writeJoined(&buf, uris)
		case code == 'i':
			if ctx.Icon != "" {
				buf.WriteString("--icon ")
				buf.WriteString(ctx.Icon)
			}
		case code == 'c':
			buf.WriteString(ctx.Name)
		case code == 'k':
			buf.WriteString(ctx.DesktopFile)
		case deprecatedCodes[code]:
			// expands to nothing
		default:
			// unknown code: warn and drop, keeping the rest of the token
			logger.Noticef("exec line %q: dropping unknown code %%%c", tmpl, code)
		}
	}
	return buf.String(), nil
}

func writeJoined(buf *bytes.Buffer, uris []string) {
	for i, u := range uris {
		if i > 0 {
			buf.WriteRune(' ')
		}
		buf.WriteString(u)
	}
}

// Expand parses template as a freedesktop Exec= line, expands its %-codes
// against uris and ctx, and tokenizes the result with POSIX shell rules.
// Expand returns ErrMalformed on unterminated quoting and ErrEmpty if the
// resulting argv has no tokens.
func Expand(template string, uris []string, ctx Context) ([]string, error) {
	expanded, err := expandCodes(template, uris, ctx)
	if err != nil {
		return nil, err
	}

	argv, err := shlex.Split(expanded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(argv) == 0 {
		return nil, ErrEmpty
	}
	return argv, nil
}

// WrapAppArmor prepends the aa-exec invocation that applies a mandatory
// access control profile to argv, unless profile is empty or the
// sentinel "unconfined" (spec.md §4.2's wrapping rule).
func WrapAppArmor(argv []string, profile string) []string {
	if profile == "" || profile == "unconfined" {
		return argv
	}
	wrapped := make([]string, 0, len(argv)+3)
	wrapped = append(wrapped, "aa-exec", "-p", profile)
	wrapped = append(wrapped, argv...)
	return wrapped
}
