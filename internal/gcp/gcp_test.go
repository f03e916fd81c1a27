package gcp

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Lllllllleong/elasticprinter/internal/models"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestArchiveObjectName(t *testing.T) {
	assert.Equal(t, "job-42/print_job_alice_42_20240309_140507.pdf",
		ArchiveObjectName("job-42", "/tmp/elasticprinter/print_job_alice_42_20240309_140507.pdf"))
}

func TestIsPreconditionFailed(t *testing.T) {
	assert.True(t, isPreconditionFailed(&googleapi.Error{Code: 412}))
	assert.True(t, isPreconditionFailed(fmt.Errorf("close: %w", &googleapi.Error{Code: 412})))
	assert.False(t, isPreconditionFailed(&googleapi.Error{Code: 403}))
	assert.False(t, isPreconditionFailed(errors.New("boom")))
}

func TestLedgerFields(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	fields := ledgerFields(models.LedgerEntry{
		DocID:     "job-1",
		JobID:     "1",
		Status:    models.StatusIndexed,
		FileHash:  "abc",
		UpdatedAt: ts,
	})

	assert.Equal(t, map[string]interface{}{
		"docId":     "job-1",
		"jobId":     "1",
		"status":    "INDEXED",
		"fileHash":  "abc",
		"updatedAt": ts,
	}, fields)
	assert.NotContains(t, fields, "errorDetails")
	assert.NotContains(t, fields, "archiveUri")
}
