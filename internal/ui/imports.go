package ui

import "github.com/bamsammich/slinger/internal/event"

// Re-export event types for convenience.
const (
	StageStarted   = event.StageStarted
	StageComplete  = event.StageComplete
	DirCreated     = event.DirCreated
	CopyStarted    = event.CopyStarted
	FileStarted    = event.FileStarted
	FileCompleted  = event.FileCompleted
	FileFailed     = event.FileFailed
	FileSkipped    = event.FileSkipped
	CopyComplete   = event.CopyComplete
	VerifyStarted  = event.VerifyStarted
	VerifyOK       = event.VerifyOK
	VerifyFailed   = event.VerifyFailed
	VerifyComplete = event.VerifyComplete
)
