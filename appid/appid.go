// -*- Mode: Go; indent-tabs-mode: t -*-

// Package appid implements the three-part application identifier
// (package/app/version) this launcher core resolves everything against:
// parsing, rendering, and wildcard discovery across stores.
package appid

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrMalformed is returned when a candidate identifier string does not
// satisfy the appid grammar (spec.md §3).
var ErrMalformed = errors.New("appid: malformed identifier")

// ErrNotFound is returned when wildcard discovery has no candidate to
// offer.
var ErrNotFound = errors.New("appid: not found")

// validToken matches a single package/app/version component: no
// underscore, no whitespace, no control characters. Components may
// otherwise contain any printable rune, mirroring snap/naming's approach
// of a compiled regexp plus explicit boundary checks rather than one
// monolithic expression for the whole identifier.
var validToken = regexp.MustCompile(`^[^_\s[:cntrl:]]+$`)

// AppID is the parsed identifier of an application: package/app/version.
// Package and Version may be empty, depending on the owning store's rules
// (spec.md §4.1); App is never empty in a well-formed AppID.
type AppID struct {
	Package string
	App     string
	Version string
}

// isValidComponent reports whether s is usable as one segment of an
// AppID: non-control, non-whitespace, and free of underscores (which are
// reserved as the render/parse separator).
func isValidComponent(s string) bool {
	return s == "" || validToken.MatchString(s)
}

// Parse parses a rendered identifier of the form "package_app_version"
// (the three-part form) or "_app_version" (the two-part form, an empty
// package). It does not resolve wildcards; see Find for that.
func Parse(s string) (AppID, error) {
	parts := strings.Split(s, "_")
	switch len(parts) {
	case 3:
		id := AppID{Package: parts[0], App: parts[1], Version: parts[2]}
		if !isValidComponent(id.Package) || !isValidComponent(id.Version) {
			return AppID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		if id.App == "" || !isValidComponent(id.App) {
			return AppID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		return id, nil
	default:
		return AppID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
}

// Render serializes an AppID back to its "package_app_version" string
// form. Render and Parse are mutual inverses for any AppID with all three
// fields non-empty (spec.md §8).
func Render(id AppID) string {
	return id.Package + "_" + id.App + "_" + id.Version
}

// String implements fmt.Stringer.
func (id AppID) String() string {
	return Render(id)
}

// Empty reports whether id carries no app name at all, the sentinel the
// Job Manager checks at the top of launch() (spec.md §4.5 step 1).
func (id AppID) Empty() bool {
	return id.App == ""
}

// Lister resolves the set of known versions for a package/app pair, the
// minimal capability Find needs from a store to settle a version
// wildcard without depending on the full appstore.Store interface
// (SPEC_FULL.md §4.1).
type Lister interface {
	ListVersions(ctx context.Context, pkg, app string) ([]string, error)
}

// Find resolves a caller-supplied hint to a concrete AppID, trying, in
// order: (a) the full three-part form; (b) a two-part "app_version" or a
// bare "app" form, with an empty package. For "app_version" the version
// must be one that lister reports for that app; for a bare "app" Find
// picks the lexically newest version lister reports.
func Find(ctx context.Context, lister Lister, hint string) (AppID, error) {
	if id, err := Parse(hint); err == nil {
		return id, nil
	}

	app, version, hasVersion := splitTwoPart(hint)
	if app == "" || !isValidComponent(app) || (hasVersion && !isValidComponent(version)) {
		return AppID{}, fmt.Errorf("%w: %q", ErrMalformed, hint)
	}

	if hasVersion {
		if lister == nil {
			return AppID{}, fmt.Errorf("%w: %q", ErrNotFound, hint)
		}
		versions, err := lister.ListVersions(ctx, "", app)
		if err != nil {
			return AppID{}, err
		}
		for _, v := range versions {
			if v == version {
				return AppID{App: app, Version: version}, nil
			}
		}
		return AppID{}, fmt.Errorf("%w: %q", ErrNotFound, hint)
	}

	if lister == nil {
		return AppID{}, fmt.Errorf("%w: %q", ErrNotFound, hint)
	}
	versions, err := lister.ListVersions(ctx, "", app)
	if err != nil {
		return AppID{}, err
	}
	if len(versions) == 0 {
		return AppID{}, fmt.Errorf("%w: %q", ErrNotFound, hint)
	}
	sorted := append([]string(nil), versions...)
	sort.Strings(sorted)
	return AppID{App: app, Version: sorted[len(sorted)-1]}, nil
}

// splitTwoPart splits a bare "app" or "app_version" hint (the two-part
// form spec.md §4.1 describes, written with an underscore separator to
// stay consistent with the rendered grammar).
func splitTwoPart(hint string) (app, version string, hasVersion bool) {
	parts := strings.SplitN(hint, "_", 2)
	if len(parts) == 2 {
		return parts[0], parts[1], true
	}
	return parts[0], "", false
}
