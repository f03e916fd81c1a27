package models

// GCSEvent is the payload of a GCS object-finalize event for a spool file
// dropped into the print bucket. Job fields travel as object metadata.
type GCSEvent struct {
	Bucket   string            `json:"bucket"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IndexResponse is the part of the Elasticsearch index response we care about.
type IndexResponse struct {
	Index   string `json:"_index"`
	ID      string `json:"_id"`
	Version int64  `json:"_version"`
	Result  string `json:"result"`
}
