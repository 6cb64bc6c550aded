// -*- Mode: Go; indent-tabs-mode: t -*-

package launcher

import (
	"fmt"
	"strings"
)

const unitPrefix = "ubuntu-app-launch"
const unitSuffix = ".service"
const unitDelim = "--"

// UnitInfo is the structured key identifying one launched unit (spec.md
// §3): the job name, the rendered AppID, and the instance number.
type UnitInfo struct {
	Job      string
	AppID    string
	Instance string
}

// unitName renders info into the on-wire unit name, the exact inverse of
// parseUnit (spec.md §3's invariant).
func unitName(info UnitInfo) string {
	return unitPrefix + unitDelim + info.Job + unitDelim + info.AppID + unitDelim + info.Instance + unitSuffix
}

// parseUnit parses name back into a UnitInfo, or returns ErrMalformed.
//
// spec.md §9 leaves the "--" delimiter ambiguous: the appid component may
// itself contain "-", so a greedy regexp over
// "ubuntu-app-launch--(.*)--(.*)--([0-9]*).service" can parse more than
// one way. This implementation resolves that Open Question (recorded in
// DESIGN.md) by splitting on the first "--" after the fixed prefix and
// the last "--" before the suffix, then rejecting the parse as malformed
// if that split is itself ambiguous — i.e. if the substring immediately
// bordering either delimiter is itself "-", which would let the boundary
// slide without changing the rendered string.
func parseUnit(name string) (UnitInfo, error) {
	rest := strings.TrimSuffix(name, unitSuffix)
	if rest == name || !strings.HasPrefix(rest, unitPrefix+unitDelim) {
		return UnitInfo{}, fmt.Errorf("%w: %q", ErrMalformed, name)
	}
	rest = strings.TrimPrefix(rest, unitPrefix+unitDelim)

	first := strings.Index(rest, unitDelim)
	last := strings.LastIndex(rest, unitDelim)
	if first == -1 || last == -1 || first == last {
		return UnitInfo{}, fmt.Errorf("%w: %q", ErrMalformed, name)
	}

	job := rest[:first]
	appid := rest[first+len(unitDelim) : last]
	instance := rest[last+len(unitDelim):]

	if job == "" || appid == "" {
		return UnitInfo{}, fmt.Errorf("%w: %q", ErrMalformed, name)
	}
	if strings.HasPrefix(appid, "-") || strings.HasSuffix(appid, "-") {
		// The appid component borders a delimiter by a bare "-": the
		// first/last "--" split is ambiguous (it could equally be read
		// as part of a three-dash run), so refuse rather than guess.
		return UnitInfo{}, fmt.Errorf("%w: ambiguous delimiter in %q", ErrMalformed, name)
	}
	for _, r := range instance {
		if r < '0' || r > '9' {
			return UnitInfo{}, fmt.Errorf("%w: %q", ErrMalformed, name)
		}
	}

	return UnitInfo{Job: job, AppID: appid, Instance: instance}, nil
}
