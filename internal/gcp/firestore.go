package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/elasticprinter/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreLedger records job progress in a Firestore collection keyed by document id.
type FirestoreLedger struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreLedger opens a ledger on the given project and collection.
func NewFirestoreLedger(ctx context.Context, projectID, collection string) (*FirestoreLedger, error) {
	client, err := NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &FirestoreLedger{client: client, collection: collection}, nil
}

// Update merges entry into collection/<DocID>. Empty fields leave stored values untouched.
func (l *FirestoreLedger) Update(ctx context.Context, entry models.LedgerEntry) error {
	if entry.DocID == "" {
		return fmt.Errorf("ledger entry has no document id")
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	_, err := l.client.Collection(l.collection).Doc(entry.DocID).Set(ctx, ledgerFields(entry), firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to update ledger entry %s: %w", entry.DocID, err)
	}
	return nil
}

// Close releases the underlying client.
func (l *FirestoreLedger) Close() error {
	return l.client.Close()
}

// ledgerFields flattens an entry into the map form MergeAll requires.
func ledgerFields(e models.LedgerEntry) map[string]interface{} {
	fields := map[string]interface{}{
		"docId":     e.DocID,
		"status":    e.Status,
		"updatedAt": e.UpdatedAt,
	}
	optional := map[string]string{
		"jobId":        e.JobID,
		"user":         e.User,
		"errorDetails": e.ErrorDetails,
		"fileHash":     e.FileHash,
		"archiveUri":   e.ArchiveURI,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}
