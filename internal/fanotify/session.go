package fanotify

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	gofanotify "github.com/s3rj1k/go-fanotify/fanotify"
	"golang.org/x/sys/unix"

	"github.com/majorcontext/sedock/internal/log"
)

const (
	initFlags = unix.FAN_CLASS_NOTIF | unix.FAN_CLOEXEC | unix.FAN_NONBLOCK
	openFlags = os.O_RDONLY | unix.O_LARGEFILE | unix.O_CLOEXEC

	metadataLen = int(unsafe.Sizeof(unix.FanotifyEventMetadata{}))
	readBufSize = 64 * 1024
)

// Options selects what a session reports.
type Options struct {
	// Kinds to report. Empty means all.
	Kinds []Kind
	// Recursive watches the whole subtree by marking the enclosing mount
	// and discarding events outside the directory. Otherwise only direct
	// children of the directory are watched.
	Recursive bool
}

// DefaultOptions reports every kind for the whole subtree.
func DefaultOptions() Options {
	return Options{Kinds: AllKinds, Recursive: true}
}

// Stats counts records seen by a session.
type Stats struct {
	// Read is the number of kernel records decoded.
	Read uint64
	// Lost is the number of queue overflow notifications.
	Lost uint64
	// Retries counts interrupted or empty reads that were retried.
	Retries uint64
	// Filtered counts records discarded as out of scope, self-generated,
	// or unresolvable.
	Filtered uint64
	// Discarded counts decoded events thrown away with a malformed batch.
	Discarded uint64
}

// Session is an open fanotify group watching one directory.
type Session struct {
	r         io.ReadCloser
	root      string
	recursive bool
	mask      uint64
	self      int32

	readlink func(fd int32) (string, error)
	closeFD  func(fd int32) error
	now      func() time.Time

	buf    []byte
	closed atomic.Bool

	read, lost, retries, filtered, discarded atomic.Uint64
}

// Open starts watching path. The caller must Close the session.
func Open(path string, opts Options) (*Session, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &StartupError{Op: "resolve", Path: path, Err: err}
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, &StartupError{Op: "stat", Path: abs, Err: err}
	}
	if !fi.IsDir() {
		return nil, &StartupError{Op: "stat", Path: abs, Err: unix.ENOTDIR}
	}

	nfd, err := gofanotify.Initialize(initFlags, openFlags)
	if err != nil {
		return nil, &StartupError{Op: "init", Err: err}
	}

	mask := kindMask(opts.Kinds)
	var flags uint = unix.FAN_MARK_ADD
	if opts.Recursive {
		flags |= unix.FAN_MARK_MOUNT
	} else {
		mask |= unix.FAN_EVENT_ON_CHILD
	}
	if err := nfd.Mark(flags, mask, unix.AT_FDCWD, abs); err != nil {
		nfd.File.Close()
		return nil, &StartupError{Op: "mark", Path: abs, Err: err}
	}

	log.Debug("fanotify session open", "path", abs, "recursive", opts.Recursive, "mask", fmt.Sprintf("%#x", mask))
	s := newSession(nfd.File, abs, opts)
	return s, nil
}

func newSession(r io.ReadCloser, root string, opts Options) *Session {
	return &Session{
		r:         r,
		root:      filepath.Clean(root),
		recursive: opts.Recursive,
		mask:      kindMask(opts.Kinds),
		self:      int32(os.Getpid()),
		readlink:  fdPath,
		closeFD:   func(fd int32) error { return unix.Close(int(fd)) },
		now:       time.Now,
		buf:       make([]byte, readBufSize),
	}
}

func kindMask(kinds []Kind) uint64 {
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	var m uint64
	for _, k := range kinds {
		m |= k.mask()
	}
	return m
}

// Next blocks until the kernel delivers at least one in-scope event and
// returns them in kernel order.
func (s *Session) Next() ([]Event, error) {
	for {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		n, err := s.r.Read(s.buf)
		if err != nil {
			if s.closed.Load() || errors.Is(err, os.ErrClosed) {
				return nil, ErrClosed
			}
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				s.retries.Add(1)
				continue
			}
			return nil, &ReadError{Err: err}
		}
		if n == 0 {
			s.retries.Add(1)
			continue
		}

		events, err := s.decode(s.buf[:n])
		if err != nil {
			return nil, &ReadError{Err: err}
		}
		if len(events) > 0 {
			return events, nil
		}
	}
}

// decode walks a buffer of fanotify_event_metadata records. Every record's
// descriptor is closed before decode returns, including on error. A
// malformed record discards the whole batch; events already decoded from
// it are counted in Stats.Discarded.
func (s *Session) decode(buf []byte) ([]Event, error) {
	var events []Event
	for len(buf) > 0 {
		md, err := parseMetadata(buf)
		if err != nil {
			s.releaseRest(buf)
			s.discarded.Add(uint64(len(events)))
			return nil, err
		}
		buf = buf[md.Event_len:]
		s.read.Add(1)
		events = s.record(md, events)
	}
	return events, nil
}

func parseMetadata(buf []byte) (unix.FanotifyEventMetadata, error) {
	if len(buf) < metadataLen {
		return unix.FanotifyEventMetadata{}, fmt.Errorf("short record: %d bytes", len(buf))
	}
	md := unix.FanotifyEventMetadata{
		Event_len:    binary.NativeEndian.Uint32(buf[0:4]),
		Vers:         buf[4],
		Metadata_len: binary.NativeEndian.Uint16(buf[6:8]),
		Mask:         binary.NativeEndian.Uint64(buf[8:16]),
		Fd:           int32(binary.NativeEndian.Uint32(buf[16:20])),
		Pid:          int32(binary.NativeEndian.Uint32(buf[20:24])),
	}
	if md.Vers != unix.FANOTIFY_METADATA_VERSION {
		return md, fmt.Errorf("metadata version %d, want %d", md.Vers, unix.FANOTIFY_METADATA_VERSION)
	}
	if int(md.Event_len) < metadataLen || int(md.Event_len) > len(buf) {
		return md, fmt.Errorf("bad record length %d", md.Event_len)
	}
	return md, nil
}

// releaseRest closes the descriptor of the failing record and of every
// following record whose length can still be trusted.
func (s *Session) releaseRest(buf []byte) {
	for len(buf) >= metadataLen {
		n := int(binary.NativeEndian.Uint32(buf[0:4]))
		s.release(int32(binary.NativeEndian.Uint32(buf[16:20])))
		if n < metadataLen || n > len(buf) {
			return
		}
		buf = buf[n:]
	}
}

// record appends the events carried by one metadata record.
func (s *Session) record(md unix.FanotifyEventMetadata, events []Event) []Event {
	defer s.release(md.Fd)

	if md.Mask&unix.FAN_Q_OVERFLOW != 0 {
		s.lost.Add(1)
		log.Warn("fanotify queue overflow; events lost")
		return events
	}
	if md.Pid == s.self {
		s.filtered.Add(1)
		return events
	}

	path, err := s.readlink(md.Fd)
	if err != nil {
		s.filtered.Add(1)
		log.Debug("unresolvable event path", "pid", md.Pid, "error", err)
		return events
	}
	if s.recursive && !within(s.root, path) {
		s.filtered.Add(1)
		return events
	}

	at := s.now()
	for _, k := range AllKinds {
		if md.Mask&s.mask&k.mask() != 0 {
			events = append(events, Event{Kind: k, PID: int(md.Pid), Path: path, Time: at})
		}
	}
	return events
}

func (s *Session) release(fd int32) {
	if fd < 0 {
		return
	}
	if err := s.closeFD(fd); err != nil {
		log.Debug("closing event fd", "fd", fd, "error", err)
	}
}

// Stats returns counters accumulated since Open.
func (s *Session) Stats() Stats {
	return Stats{
		Read:      s.read.Load(),
		Lost:      s.lost.Load(),
		Retries:   s.retries.Load(),
		Filtered:  s.filtered.Load(),
		Discarded: s.discarded.Load(),
	}
}

// Close stops the session and unblocks a pending Next.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.r.Close()
}

// Supported reports whether this process can create a fanotify group.
func Supported() error {
	nfd, err := gofanotify.Initialize(unix.FAN_CLASS_NOTIF|unix.FAN_CLOEXEC, os.O_RDONLY)
	if err != nil {
		return &StartupError{Op: "init", Err: err}
	}
	return nfd.File.Close()
}

func fdPath(fd int32) (string, error) {
	p, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(int(fd)))
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(p, " (deleted)"), nil
}

func within(root, path string) bool {
	if root == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == root || strings.HasPrefix(path, root+"/")
}
