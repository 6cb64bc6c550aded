// -*- Mode: Go; indent-tabs-mode: t -*-

package launcher

import (
	"os"
	"strings"

	"github.com/mardy/ubuntu-app-launch/logger"
)

// EnvVar is one (name, value) environment pair. Using a slice rather
// than a map preserves insertion order and lets duplicate keys exist
// transiently during assembly, mirroring the original's
// std::list<pair<string,string>> (SPEC_FULL.md §4.5). findEnv and
// removeEnv act on the first entry of a name only; duplicates are not
// merged before the environment ships.
type EnvVar struct {
	Name  string
	Value string
}

// findEnv returns the value of the first entry named name, or "" if
// absent — the Go analogue of jobs-systemd.cpp's findEnv.
func findEnv(name string, env []EnvVar) string {
	for _, e := range env {
		if e.Name == name {
			return e.Value
		}
	}
	return ""
}

// removeEnv deletes the first entry named name, if any.
func removeEnv(name string, env []EnvVar) []EnvVar {
	for i, e := range env {
		if e.Name == name {
			return append(env[:i], env[i+1:]...)
		}
	}
	return env
}

// copyEnv copies name from the process environment into env, unless env
// already has a value for it (jobs-systemd.cpp's copyEnv).
func copyEnv(name string, env []EnvVar) []EnvVar {
	if findEnv(name, env) != "" {
		return env
	}
	if v, ok := os.LookupEnv(name); ok {
		return append(env, EnvVar{Name: name, Value: v})
	}
	return env
}

// copyEnvByPrefix copies every process-environment variable whose name
// begins with prefix into env (jobs-systemd.cpp's copyEnvByPrefix).
func copyEnvByPrefix(prefix string, env []EnvVar) []EnvVar {
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(name, prefix) {
			env = copyEnv(name, env)
		}
	}
	return env
}

// envSize computes the size the Environment= unit property will occupy
// on the wire, matching jobs-systemd.cpp's envSize so the soft cap
// warning (spec.md §4.5) can be enforced before shipping the RPC.
func envSize(env []EnvVar) int {
	length := len("Environment=")
	for _, e := range env {
		length += 3 /* two quotes, one space */ + len(e.Name) + len(e.Value)
	}
	length-- // the first entry doesn't get a leading space
	return length
}

// maxEnvironmentSize is systemd's documented per-property size limit for
// a single D-Bus property value (8 MiB); exceeding it is what the soft
// cap in spec.md §4.5 warns about.
const maxEnvironmentSize = 8 * 1024 * 1024

func checkEnvSize(env []EnvVar) {
	if n := envSize(env); n > maxEnvironmentSize {
		logger.Noticef("environment length %d exceeds systemd's property size limit", n)
	}
}
