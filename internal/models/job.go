package models

import "time"

// Job is a single print job handed to the backend by the spooler.
// It only lives for the duration of one pipeline run.
type Job struct {
	ID        string
	User      string
	Title     string
	Copies    int
	Options   string // raw CUPS option string, logged only
	InputPath string
}

// Ledger statuses, in the order a successful job moves through them.
const (
	StatusReceived  = "RECEIVED"
	StatusConverted = "CONVERTED"
	StatusIndexed   = "INDEXED"
	StatusFailed    = "FAILED"
)

// LedgerEntry is the status record kept in Firestore for each indexed document id.
// It tracks where a job got to and why it failed.
type LedgerEntry struct {
	DocID        string    `firestore:"docId,omitempty"`
	JobID        string    `firestore:"jobId,omitempty"`
	User         string    `firestore:"user,omitempty"`
	Status       string    `firestore:"status,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	FileHash     string    `firestore:"fileHash,omitempty"`
	ArchiveURI   string    `firestore:"archiveUri,omitempty"` // For traceability
	UpdatedAt    time.Time `firestore:"updatedAt,omitempty"`
}
