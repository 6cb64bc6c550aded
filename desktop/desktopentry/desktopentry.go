// -*- Mode: Go; indent-tabs-mode: t -*-

// Package desktopentry reads freedesktop .desktop files for the Legacy
// app store, the way the original desktop-exec.c's try_dir/verify_keyfile
// pair does, but using goconfigparser's INI reader instead of GKeyFile.
package desktopentry

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mvo5/goconfigparser"

	"github.com/mardy/ubuntu-app-launch/execline"
)

const mainGroup = "Desktop Entry"

// Action is one [Desktop Action <name>] group.
type Action struct {
	Name string
	Icon string
	Exec string
}

// DesktopEntry is the parsed [Desktop Entry] group of a .desktop file,
// plus any [Desktop Action ...] groups it declares.
type DesktopEntry struct {
	Filename string

	Name  string
	Icon  string
	Exec  string
	Hidden bool

	// AppArmorProfile is the value of X-Canonical-AppArmor-Profile, empty
	// if absent (spec.md §4.3: absent means effectively "unconfined").
	AppArmorProfile string

	OnlyShowIn []string
	NotShownIn []string

	GNOMEAutostart *bool

	Actions map[string]*Action
}

// Parse reads a .desktop file's [Desktop Entry] group (and any
// [Desktop Action ...] groups) from r. filename is recorded for error
// messages and for the %k exec code.
func Parse(filename string, r io.Reader) (*DesktopEntry, error) {
	cfg := goconfigparser.New()
	if err := cfg.Read(r); err != nil {
		return nil, fmt.Errorf("desktop file %q badly formed", filename)
	}

	sections := cfg.Sections()
	nMain := 0
	for _, sec := range sections {
		if sec == mainGroup {
			nMain++
		}
	}
	if nMain > 1 {
		return nil, fmt.Errorf("desktop file %q has multiple [Desktop Entry] groups", filename)
	}
	if nMain == 0 {
		return nil, fmt.Errorf("desktop file %q has no [Desktop Entry] group", filename)
	}

	de := &DesktopEntry{
		Filename: filename,
		Actions:  map[string]*Action{},
	}
	de.Name = localizedName(cfg, mainGroup)
	de.Icon, _ = cfg.Get(mainGroup, "Icon")
	de.Exec, _ = cfg.Get(mainGroup, "Exec")
	de.AppArmorProfile, _ = cfg.Get(mainGroup, "X-Canonical-AppArmor-Profile")

	if hidden, err := cfg.Get(mainGroup, "Hidden"); err == nil {
		de.Hidden = hidden == "true"
	}
	if v, err := cfg.Get(mainGroup, "OnlyShowIn"); err == nil && v != "" {
		de.OnlyShowIn = splitList(v)
	}
	if v, err := cfg.Get(mainGroup, "NotShownIn"); err == nil && v != "" {
		de.NotShownIn = splitList(v)
	}
	if v, err := cfg.Get(mainGroup, "X-GNOME-Autostart-enabled"); err == nil && v != "" {
		b := v == "true"
		de.GNOMEAutostart = &b
	}

	actionNames := map[string]bool{}
	if v, err := cfg.Get(mainGroup, "Actions"); err == nil {
		for _, n := range splitList(v) {
			actionNames[n] = true
		}
	}

	seenAction := map[string]bool{}
	for _, sec := range sections {
		name, ok := actionGroupName(sec)
		if !ok {
			continue
		}
		if seenAction[name] {
			return nil, fmt.Errorf("desktop file %q has multiple %q groups", filename, "[Desktop Action "+name+"]")
		}
		seenAction[name] = true
		if !actionNames[name] {
			return nil, fmt.Errorf("desktop file %q contains unknown action %q", filename, name)
		}
		act := &Action{}
		act.Name = localizedName(cfg, sec)
		act.Icon, _ = cfg.Get(sec, "Icon")
		act.Exec, _ = cfg.Get(sec, "Exec")
		de.Actions[name] = act
	}

	return de, nil
}

func actionGroupName(section string) (string, bool) {
	const prefix = "Desktop Action "
	if !strings.HasPrefix(section, prefix) {
		return "", false
	}
	return strings.TrimPrefix(section, prefix), true
}

// currentLocale reports the process locale as LANG, stripped of any
// encoding/modifier suffix (e.g. "en_DK.UTF-8" -> "en_DK"), empty if unset.
func currentLocale() string {
	lang := os.Getenv("LANG")
	if lang == "" {
		return ""
	}
	if i := strings.IndexAny(lang, ".@"); i >= 0 {
		lang = lang[:i]
	}
	return lang
}

// localizedName resolves the %c "translated name" the way
// getLocalizedAppNameFromDesktopFile does: Name[<full locale>], then
// Name[<language part>], then the untranslated Name, matching the
// Desktop Entry Specification's localized-key fallback order rather than
// a gettext message catalog lookup.
func localizedName(cfg *goconfigparser.ConfigParser, section string) string {
	if locale := currentLocale(); locale != "" {
		if name, err := cfg.Get(section, "Name["+locale+"]"); err == nil && name != "" {
			return name
		}
		if lang := strings.Split(locale, "_")[0]; lang != locale {
			if name, err := cfg.Get(section, "Name["+lang+"]"); err == nil && name != "" {
				return name
			}
		}
	}
	name, _ := cfg.Get(section, "Name")
	return name
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ";") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExpandExec expands the entry's main Exec line against uris.
func (de *DesktopEntry) ExpandExec(uris []string) ([]string, error) {
	if de.Exec == "" {
		return nil, fmt.Errorf("desktop file %q has no Exec line", de.Filename)
	}
	return execline.Expand(de.Exec, uris, de.execContext())
}

// ExpandActionExec expands the Exec line of the named [Desktop Action]
// group against uris.
func (de *DesktopEntry) ExpandActionExec(action string, uris []string) ([]string, error) {
	act, ok := de.Actions[action]
	if !ok {
		return nil, fmt.Errorf("desktop file %q does not have action %q", de.Filename, action)
	}
	if act.Exec == "" {
		return nil, fmt.Errorf("desktop file %q action %q has no Exec line", de.Filename, action)
	}
	return execline.Expand(act.Exec, uris, execline.Context{Icon: act.Icon, Name: act.Name, DesktopFile: de.Filename})
}

func (de *DesktopEntry) execContext() execline.Context {
	return execline.Context{Icon: de.Icon, Name: de.Name, DesktopFile: de.Filename}
}

// ShouldAutostart reports whether this entry should be autostarted given
// the current desktop names (XDG_CURRENT_DESKTOP, colon separated).
// Hidden always wins. A non-empty OnlyShowIn then decides alone. A
// NotShownIn entry naming a current desktop hides the entry, unless GNOME
// is current and X-GNOME-Autostart-enabled is set, in which case that key
// decides. With neither list set, X-GNOME-Autostart-enabled decides when
// GNOME is current; otherwise the entry autostarts.
func (de *DesktopEntry) ShouldAutostart(currentDesktop []string) bool {
	if de.Hidden {
		return false
	}

	inCurrent := func(list []string) bool {
		for _, want := range list {
			for _, have := range currentDesktop {
				if want == have {
					return true
				}
			}
		}
		return false
	}

	if len(de.OnlyShowIn) > 0 {
		return inCurrent(de.OnlyShowIn)
	}
	if len(de.NotShownIn) > 0 {
		if inCurrent(de.NotShownIn) {
			if inCurrent([]string{"GNOME"}) && de.GNOMEAutostart != nil {
				return *de.GNOMEAutostart
			}
			return false
		}
		return true
	}
	if inCurrent([]string{"GNOME"}) && de.GNOMEAutostart != nil {
		return *de.GNOMEAutostart
	}
	return true
}
