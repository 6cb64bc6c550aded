// -*- Mode: Go; indent-tabs-mode: t -*-

// desktop-exec is the legacy Exec-line helper retained for parity with
// original_source/desktop-exec.c: given an appid and an optional
// space-separated URI list, it locates the matching desktop file across
// the Legacy store's data directories, expands its Exec= line, applies
// any apparmor wrapping, and prints the resulting command line
// (spec.md §6).
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/mardy/ubuntu-app-launch/appid"
	"github.com/mardy/ubuntu-app-launch/appstore"
	"github.com/mardy/ubuntu-app-launch/dirs"
	"github.com/mardy/ubuntu-app-launch/execline"
)

var opts struct {
	Positional struct {
		AppID string   `positional-arg-name:"app-id" required:"yes"`
		URIs  []string `positional-arg-name:"uri-list"`
	} `positional-args:"yes"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cannot desktop-exec: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}

	ctx := context.Background()
	store := appstore.NewLegacyStore(dirs.DesktopFileDirs())

	id, err := appid.Parse(opts.Positional.AppID)
	if err != nil {
		// the legacy helper is always called with a bare app name, so
		// synthesize the two-part form desktop-exec.c's own CLI accepted.
		id = appid.AppID{App: opts.Positional.AppID}
	}

	rec, err := store.Verify(ctx, id)
	if err != nil {
		return fmt.Errorf("unable to find desktop file for %q: %w", opts.Positional.AppID, err)
	}

	uris := splitUriList(opts.Positional.URIs)
	argv, err := expandCommandLine(rec, uris)
	if err != nil {
		return err
	}

	fmt.Println(strings.Join(argv, " "))
	return nil
}

// expandCommandLine runs the Exec Parser against rec's template and wraps
// it in an apparmor invocation if rec carries a profile, matching
// original_source/desktop-exec.c's final string assembly (minus its
// GKeyFile intermediate step, already performed by the Legacy store).
func expandCommandLine(rec appstore.AppRecord, uris []string) ([]string, error) {
	argv, err := execline.Expand(rec.ExecTemplate, uris, execline.Context{
		Icon: rec.Icon,
		Name: rec.Name,
	})
	if err != nil {
		return nil, err
	}
	return execline.WrapAppArmor(argv, rec.AppArmorProfile), nil
}

// splitUriList re-joins desktop-exec's single positional uri-list
// argument (historically a single space-separated string) from the
// trailing positional-args slice go-flags hands back.
func splitUriList(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	return strings.Fields(strings.Join(args, " "))
}
