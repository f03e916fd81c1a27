// Package elastic wraps the Elasticsearch client used to index print jobs.
package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/Lllllllleong/elasticprinter/internal/models"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

//go:embed mapping.json
var indexMapping []byte

// State is the lifecycle state of a Client.
type State int

const (
	Disconnected State = iota
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "disconnected"
	}
}

// Client owns one connection to the index engine.
type Client struct {
	es        *elasticsearch.Client
	transport *http.Transport
	cfg       config.ElasticsearchConfig
	logger    *slog.Logger

	mu    sync.Mutex
	state State
}

// New builds a client and performs the Info handshake. A failed handshake
// returns an AuthenticationError or ConnectionError; there is no retry.
func New(ctx context.Context, cfg config.ElasticsearchConfig, logger *slog.Logger) (*Client, error) {
	logCtx := logger.With("host", cfg.Host, "index", cfg.Index)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifyCerts {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		logCtx.Warn("TLS certificate verification is disabled.")
	}

	esCfg := elasticsearch.Config{
		Addresses:    []string{cfg.Host},
		Transport:    transport,
		DisableRetry: true,
	}
	mode := applyAuth(cfg, &esCfg)
	if mode == AuthNone {
		logCtx.Warn("No authentication configured.")
	} else {
		logCtx.Info("Using Elasticsearch authentication.", "mode", string(mode))
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, models.ConnectionError("failed to create elasticsearch client", err)
	}

	c := &Client{
		es:        es,
		transport: transport,
		cfg:       cfg,
		logger:    logCtx,
		state:     Disconnected,
	}
	if err := c.handshake(ctx); err != nil {
		transport.CloseIdleConnections()
		logCtx.Error("Connection test failed.", "error", err)
		return nil, err
	}
	return c, nil
}

// handshake uses Info rather than Ping, which serverless deployments reject.
func (c *Client) handshake(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := esapi.InfoRequest{}.Do(ctx, c.es)
	if err != nil {
		return models.ConnectionError(fmt.Sprintf("cannot connect to Elasticsearch at %s", c.cfg.Host), err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return models.AuthenticationError("elasticsearch rejected credentials", responseError(res))
	case res.IsError():
		return models.ConnectionError("elasticsearch handshake failed", responseError(res))
	}

	var info struct {
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		c.logger.Debug("Could not decode cluster info.", "error", err)
	}

	c.setState(Connected)
	c.logger.Info("Connected to Elasticsearch.", "cluster", info.ClusterName, "version", info.Version.Number)
	return nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// EnsureIndex creates the index with the bundled mapping unless it already exists.
func (c *Client) EnsureIndex(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := esapi.IndicesExistsRequest{Index: []string{c.cfg.Index}}.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", c.cfg.Index, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		c.logger.Debug("Index already exists.")
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("unexpected status checking index %s: %s", c.cfg.Index, res.Status())
	}

	res, err = esapi.IndicesCreateRequest{
		Index: c.cfg.Index,
		Body:  bytes.NewReader(indexMapping),
	}.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", c.cfg.Index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to create index %s: %w", c.cfg.Index, responseError(res))
	}

	c.logger.Info("Created index with mapping.")
	return nil
}

// AttachmentPipeline returns the ingest pipeline definition: extract text and
// properties from the base64 "data" field, then drop the raw payload.
func AttachmentPipeline() map[string]any {
	return map[string]any{
		"description": "Extract attachment information from print jobs",
		"processors": []any{
			map[string]any{
				"attachment": map[string]any{
					"field":          "data",
					"target_field":   "attachment",
					"indexed_chars":  -1,
					"ignore_missing": true,
				},
			},
			map[string]any{
				"remove": map[string]any{
					"field":          "data",
					"ignore_missing": true,
				},
			},
		},
	}
}

// EnsurePipeline creates the attachment ingest pipeline unless it already exists.
func (c *Client) EnsurePipeline(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := esapi.IngestGetPipelineRequest{PipelineID: c.cfg.Pipeline}.Do(ctx, c.es)
	if err == nil {
		res.Body.Close()
		if res.StatusCode == http.StatusOK {
			c.logger.Debug("Pipeline already exists.", "pipeline", c.cfg.Pipeline)
			return nil
		}
	}

	body, err := json.Marshal(AttachmentPipeline())
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline: %w", err)
	}
	res, err = esapi.IngestPutPipelineRequest{
		PipelineID: c.cfg.Pipeline,
		Body:       bytes.NewReader(body),
	}.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to create pipeline %s: %w", c.cfg.Pipeline, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to create pipeline %s: %w", c.cfg.Pipeline, responseError(res))
	}

	c.logger.Info("Created ingest pipeline.", "pipeline", c.cfg.Pipeline)
	return nil
}

// IndexDocument base64-encodes the file, merges it into metadata under "data"
// and upserts it through the attachment pipeline under docID.
func (c *Client) IndexDocument(ctx context.Context, path string, metadata map[string]any, docID string) (*models.IndexResponse, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, models.IndexSubmissionError(fmt.Sprintf("failed to read %s", path), err)
	}

	doc := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		doc[k] = v
	}
	doc["data"] = base64.StdEncoding.EncodeToString(raw)

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, models.IndexSubmissionError("failed to marshal document", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := esapi.IndexRequest{
		Index:      c.cfg.Index,
		DocumentID: docID,
		Body:       bytes.NewReader(body),
		Pipeline:   c.cfg.Pipeline,
	}.Do(ctx, c.es)
	if err != nil {
		return nil, models.IndexSubmissionError(fmt.Sprintf("failed to index %s", docID), err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, models.IndexSubmissionError(fmt.Sprintf("failed to index %s", docID), responseError(res))
	}

	var out models.IndexResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, models.IndexSubmissionError("failed to decode index response", err)
	}
	c.logger.Info("Indexed document.", "path", path, "docId", out.ID, "result", out.Result)
	return &out, nil
}

// Search runs a query DSL body against the index.
func (c *Client) Search(ctx context.Context, query map[string]any, size int) (map[string]any, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := esapi.SearchRequest{
		Index: []string{c.cfg.Index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return decodeBody(res)
}

// Get retrieves a document by id.
func (c *Client) Get(ctx context.Context, docID string) (map[string]any, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := esapi.GetRequest{Index: c.cfg.Index, DocumentID: docID}.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", docID, err)
	}
	return decodeBody(res)
}

// Close releases pooled connections. It never fails; problems are logged.
func (c *Client) Close() {
	if c.State() == Closed {
		c.logger.Debug("Close called on a closed client.")
		return
	}
	c.transport.CloseIdleConnections()
	c.setState(Closed)
	c.logger.Info("Closed Elasticsearch connection.")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

var (
	unsafeIDChars   = regexp.MustCompile(`[^A-Za-z0-9.@-]`)
	unsafeUserChars = regexp.MustCompile(`[^A-Za-z0-9.@]`)
)

// DocumentID derives the index id for a job. The same job id always yields the
// same document id, so a retried job replaces its earlier version. Unsafe bytes
// become _xx hex escapes, so distinct jobs never share an id; the user part
// also escapes '-' to keep the separator unambiguous.
func DocumentID(job models.Job, scopeByUser bool) string {
	id := escapeID(job.ID, unsafeIDChars)
	if scopeByUser {
		return "job-" + escapeID(job.User, unsafeUserChars) + "-" + id
	}
	return "job-" + id
}

func escapeID(s string, unsafe *regexp.Regexp) string {
	return unsafe.ReplaceAllStringFunc(s, func(m string) string {
		var b strings.Builder
		for i := 0; i < len(m); i++ {
			fmt.Fprintf(&b, "_%02x", m[i])
		}
		return b.String()
	})
}

func decodeBody(res *esapi.Response) (map[string]any, error) {
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res)
	}
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// responseError turns an error response into an error carrying status and body.
func responseError(res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s: %s", res.Status(), bytes.TrimSpace(body))
}
