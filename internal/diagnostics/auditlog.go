package diagnostics

import (
	"bufio"
	"os"
	"strconv"
)

// ReclaimEvent is one line of the reclamation audit log: which slot or
// heartbeat entry was reclaimed, from which dead pid, by whom, and when.
type ReclaimEvent struct {
	TimestampNanos int64
	Kind           string // "write_lock", "consumer_heartbeat", "zombie_readers"
	LogicalID      uint64
	DeadPID        uint32
	ReclaimerPID   uint32
}

// AuditLog is a buffered, append-only JSONL writer for ReclaimEvents.
// Grounded on lixiasky-back-coroTracer/structure.StationWriter: an
// *os.File opened O_APPEND, wrapped in a large bufio.Writer, with each
// line hand-marshaled via strconv.Append* rather than encoding/json, to
// avoid a reflection-based allocation on every reclamation — the same
// trade the teacher makes for its own high-frequency JSONL writes.
type AuditLog struct {
	file   *os.File
	writer *bufio.Writer
	line   []byte
}

// NewAuditLog opens (or creates) path for appending.
func NewAuditLog(path string) (*AuditLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &AuditLog{
		file:   f,
		writer: bufio.NewWriterSize(f, 64*1024),
		line:   make([]byte, 0, 256),
	}, nil
}

// Write appends one reclamation event as a JSON line.
func (a *AuditLog) Write(ev ReclaimEvent) error {
	buf := a.line[:0]
	buf = append(buf, `{"ts":`...)
	buf = strconv.AppendInt(buf, ev.TimestampNanos, 10)
	buf = append(buf, `,"kind":"`...)
	buf = append(buf, ev.Kind...)
	buf = append(buf, `","logical_id":`...)
	buf = strconv.AppendUint(buf, ev.LogicalID, 10)
	buf = append(buf, `,"dead_pid":`...)
	buf = strconv.AppendUint(buf, uint64(ev.DeadPID), 10)
	buf = append(buf, `,"reclaimer_pid":`...)
	buf = strconv.AppendUint(buf, uint64(ev.ReclaimerPID), 10)
	buf = append(buf, "}\n"...)
	a.line = buf

	_, err := a.writer.Write(buf)
	return err
}

// Flush flushes buffered writes to the underlying file.
func (a *AuditLog) Flush() error { return a.writer.Flush() }

// Close flushes and closes the underlying file.
func (a *AuditLog) Close() error {
	if err := a.writer.Flush(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}
