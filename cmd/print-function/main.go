package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/Lllllllleong/elasticprinter/internal/logging"
	"github.com/Lllllllleong/elasticprinter/internal/models"
	"github.com/Lllllllleong/elasticprinter/internal/services"
)

var (
	ingester *services.BucketIngester
	once     sync.Once
	initErr  error
)

func init() {
	functions.CloudEvent("IngestPrintJob", ingestPrintJob)
}

// main is required by the Go Functions Framework.
func main() {}

// ingestPrintJob indexes a spool file dropped into the print bucket.
func ingestPrintJob(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingester, initErr = newIngester(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var event models.GCSEvent
	if err := json.Unmarshal(e.Data(), &event); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with job context inside Ingest.
	return ingester.Ingest(ctx, event)
}

func newIngester(ctx context.Context) (*services.BucketIngester, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logging.ParseLevel(cfg.Logging.Level),
	})).With("service", "print-function")
	slog.SetDefault(logger)

	return services.NewBucketIngester(ctx, cfg, logger)
}
