// Package proc reads point-in-time process facts from a procfs tree.
//
// Nothing here is cached: a pid can be reused as soon as its process exits,
// so every lookup goes back to the live process table.
package proc

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrNotFound is returned when the process no longer exists.
var ErrNotFound = errors.New("process not found")

// Info holds identity facts about a process.
type Info struct {
	PID     int    `json:"pid"`
	UID     uint32 `json:"uid"`
	GID     uint32 `json:"gid"`
	Exe     string `json:"exe"`
	Cmdline string `json:"cmd"`
}

// Reader resolves process facts from a procfs filesystem.
type Reader struct {
	fsys fs.FS
}

// NewReader returns a Reader over fsys, which must be laid out like /proc.
func NewReader(fsys fs.FS) *Reader {
	return &Reader{fsys: fsys}
}

// Default returns a Reader over the host's /proc.
func Default() *Reader {
	return NewReader(os.DirFS("/proc"))
}

// Resolve reads uid, gid, executable path, and command line for pid.
// It returns an error wrapping ErrNotFound if the process has exited.
func (r *Reader) Resolve(pid int) (Info, error) {
	if pid <= 0 {
		return Info{}, fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	}

	status, err := r.read(pid, "status")
	if err != nil {
		return Info{}, err
	}

	info := Info{PID: pid}
	for _, line := range strings.Split(string(status), "\n") {
		switch {
		case strings.HasPrefix(line, "Uid:"):
			info.UID = firstID(line)
		case strings.HasPrefix(line, "Gid:"):
			info.GID = firstID(line)
		}
	}

	// cmdline is empty for kernel threads and zombies; that is not an error.
	if raw, err := r.read(pid, "cmdline"); err == nil {
		info.Cmdline = joinCmdline(raw)
	}

	info.Exe = r.exe(pid, info.Cmdline)
	return info, nil
}

// StartTime returns the process start time in clock ticks since boot
// (field 22 of /proc/<pid>/stat).
func (r *Reader) StartTime(pid int) (uint64, error) {
	raw, err := r.read(pid, "stat")
	if err != nil {
		return 0, err
	}

	// comm is wrapped in parens and may itself contain spaces or parens
	s := string(raw)
	end := strings.LastIndex(s, ")")
	if end == -1 || end+2 > len(s) {
		return 0, fmt.Errorf("pid %d: malformed stat", pid)
	}
	fields := strings.Fields(s[end+2:])
	// fields[0] is state (field 3), so starttime (field 22) is fields[19]
	if len(fields) < 20 {
		return 0, fmt.Errorf("pid %d: short stat (%d fields)", pid, len(fields))
	}
	start, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pid %d: parsing starttime: %w", pid, err)
	}
	return start, nil
}

func (r *Reader) exe(pid int, cmdline string) string {
	if target, err := fs.ReadLink(r.fsys, path(pid, "exe")); err == nil && target != "" {
		return strings.TrimSuffix(target, " (deleted)")
	}
	if cmdline != "" {
		return strings.Fields(cmdline)[0]
	}
	if comm, err := r.read(pid, "comm"); err == nil {
		if name := strings.TrimSpace(string(comm)); name != "" {
			return name
		}
	}
	return fmt.Sprintf("[%d]", pid)
}

func (r *Reader) read(pid int, name string) ([]byte, error) {
	data, err := fs.ReadFile(r.fsys, path(pid, name))
	if err != nil {
		if isGone(err) {
			return nil, fmt.Errorf("pid %d: %w", pid, ErrNotFound)
		}
		return nil, fmt.Errorf("reading /proc/%d/%s: %w", pid, name, err)
	}
	return data, nil
}

func path(pid int, name string) string {
	return strconv.Itoa(pid) + "/" + name
}

// isGone reports whether err means the process exited. ESRCH shows up when
// the process dies between open and read.
func isGone(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH)
}

func firstID(line string) uint32 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(id)
}

func joinCmdline(raw []byte) string {
	raw = bytes.TrimRight(raw, "\x00")
	return strings.TrimSpace(string(bytes.ReplaceAll(raw, []byte{0}, []byte{' '})))
}
