package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/majorcontext/sedock/internal/monitor"
	"github.com/majorcontext/sedock/internal/ui"
)

// EventHeader labels the table columns.
const EventHeader = "EVENT  PID  UID  GID  PROCESS_PATH  CONTAINER  FILE_PATH"

// EventRenderer writes one event per line. It satisfies monitor.Sink.
type EventRenderer interface {
	Write(monitor.EnrichedEvent) error
}

// EventOptions tunes an EventRenderer.
type EventOptions struct {
	// Header prints EventHeader before the first table row.
	Header bool
}

// NewEventRenderer returns the renderer for f.
func NewEventRenderer(f Format, w io.Writer, opts EventOptions) (EventRenderer, error) {
	switch f {
	case Table:
		return &eventTable{w: w, header: opts.Header}, nil
	case JSON:
		return &eventJSON{enc: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", f)
	}
}

type eventTable struct {
	w      io.Writer
	header bool
}

func (t *eventTable) Write(ev monitor.EnrichedEvent) error {
	if t.header {
		t.header = false
		if _, err := fmt.Fprintln(t.w, ui.Bold(EventHeader)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(t.w, EventRow(ev))
	return err
}

// EventRow formats ev as a table row. Fields are separated by two spaces;
// unresolved values are shown as "-", and an unknown process as "unknown".
func EventRow(ev monitor.EnrichedEvent) string {
	uid, gid, exe := placeholder, placeholder, "unknown"
	if p := ev.Process; p != nil {
		uid = strconv.FormatUint(uint64(p.UID), 10)
		gid = strconv.FormatUint(uint64(p.GID), 10)
		exe = p.Exe
	}
	container := placeholder
	if ev.Container != nil && ev.Container.ID != "" {
		container = ev.Container.ID
	}
	return strings.Join([]string{
		ui.EventTag(ev.Kind.String()),
		strconv.Itoa(ev.PID),
		uid,
		gid,
		exe,
		container,
		ev.Path,
	}, "  ")
}

type eventJSON struct {
	enc *json.Encoder
}

// eventRecord is the JSON shape of one event. Pointer fields encode as
// null when unresolved.
type eventRecord struct {
	Event       string  `json:"event"`
	PID         int     `json:"pid"`
	UID         *uint32 `json:"uid"`
	GID         *uint32 `json:"gid"`
	ProcessPath string  `json:"process_path"`
	Container   *string `json:"container"`
	FilePath    string  `json:"file_path"`
	Timestamp   string  `json:"timestamp"`
}

func newEventRecord(ev monitor.EnrichedEvent) eventRecord {
	rec := eventRecord{
		Event:       strings.ToUpper(ev.Kind.String()),
		PID:         ev.PID,
		ProcessPath: "unknown",
		FilePath:    ev.Path,
		Timestamp:   ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if p := ev.Process; p != nil {
		uid, gid := p.UID, p.GID
		rec.UID, rec.GID = &uid, &gid
		rec.ProcessPath = p.Exe
	}
	if ev.Container != nil && ev.Container.ID != "" {
		id := ev.Container.ID
		rec.Container = &id
	}
	return rec
}

func (j *eventJSON) Write(ev monitor.EnrichedEvent) error {
	return j.enc.Encode(newEventRecord(ev))
}
