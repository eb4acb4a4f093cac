package doctor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// CapSysAdmin is the capability fanotify requires.
const CapSysAdmin = 21

// CgroupVersion reports 2 for a unified hierarchy and 1 otherwise. root
// is the host filesystem root.
func CgroupVersion(root fs.FS) (int, error) {
	if _, err := fs.Stat(root, "sys/fs/cgroup/cgroup.controllers"); err == nil {
		return 2, nil
	}
	if _, err := fs.Stat(root, "sys/fs/cgroup"); err != nil {
		return 0, fmt.Errorf("cgroup filesystem not mounted: %w", err)
	}
	return 1, nil
}

// EffectiveCaps parses the CapEff bitmask from a /proc/<pid>/status file.
func EffectiveCaps(status []byte) (uint64, error) {
	sc := bufio.NewScanner(bytes.NewReader(status))
	for sc.Scan() {
		v, ok := strings.CutPrefix(sc.Text(), "CapEff:")
		if !ok {
			continue
		}
		caps, err := strconv.ParseUint(strings.TrimSpace(v), 16, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing CapEff: %w", err)
		}
		return caps, nil
	}
	return 0, errors.New("CapEff not found")
}

// HasCap reports whether bit cap is set in caps.
func HasCap(caps uint64, cap int) bool {
	return caps&(1<<uint(cap)) != 0
}
