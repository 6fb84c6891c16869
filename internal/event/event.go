package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	StageStarted Type = iota + 1
	StageComplete
	DirCreated
	CopyStarted
	FileStarted
	FileCompleted
	FileFailed
	FileSkipped
	CopyComplete
	VerifyStarted
	VerifyOK
	VerifyFailed
	VerifyComplete
)

var typeNames = [...]string{
	StageStarted:   "StageStarted",
	StageComplete:  "StageComplete",
	DirCreated:     "DirCreated",
	CopyStarted:    "CopyStarted",
	FileStarted:    "FileStarted",
	FileCompleted:  "FileCompleted",
	FileFailed:     "FileFailed",
	FileSkipped:    "FileSkipped",
	CopyComplete:   "CopyComplete",
	VerifyStarted:  "VerifyStarted",
	VerifyOK:       "VerifyOK",
	VerifyFailed:   "VerifyFailed",
	VerifyComplete: "VerifyComplete",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is a single progress notification from the engine.
type Event struct {
	Type      Type
	Timestamp time.Time
	Index     int    // file index, -1 for phase events
	Path      string // path relative to the source root
	Size      int64  // file size or bytes written
	Total     int64  // file count (StageComplete)
	TotalSize int64  // byte count (StageComplete)
	Error     error
	WorkerID  int
}
