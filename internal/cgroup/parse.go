// Package cgroup attributes processes to containers by reading their
// control-group membership.
package cgroup

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// ShortIDLen is the length of an abbreviated container id.
const ShortIDLen = 12

// containerSegment matches one runtime-managed path segment holding a full
// 64-hex container id. It covers cgroup v1 (/docker/<id>), systemd-driven v2
// scopes (docker-<id>.scope, cri-containerd-<id>.scope, crio-<id>.scope,
// libpod-<id>.scope) and kubepods leaves (/kubepods/.../<id>).
var containerSegment = regexp.MustCompile(
	`^(?:docker-|cri-containerd-|crio-|libpod-|containerd-)?([0-9a-f]{64})(?:\.scope)?$`,
)

// ParseContainerID extracts the short container id from the contents of
// /proc/<pid>/cgroup. It reports false for host processes and for any
// layout it cannot attribute to exactly one container.
func ParseContainerID(data []byte) (string, bool) {
	var found string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		// hierarchy-ID:controller-list:cgroup-path
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		id := idFromPath(parts[2])
		if id == "" {
			continue
		}
		if found != "" && found != id {
			// two hierarchies disagree, refuse to guess
			return "", false
		}
		found = id
	}
	if sc.Err() != nil || found == "" {
		return "", false
	}
	return found[:ShortIDLen], true
}

// idFromPath returns the innermost container id in a cgroup path. Nested
// runtimes (docker-in-docker) put the inner container last.
func idFromPath(p string) string {
	segs := strings.Split(p, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if m := containerSegment.FindStringSubmatch(segs[i]); m != nil {
			return m[1]
		}
	}
	return ""
}
