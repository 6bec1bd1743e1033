package results

// ItemType classifies an analysis artifact.
type ItemType string

const (
	TypeChartSpec ItemType = "chart-spec"
	TypeImage     ItemType = "image"
	TypeTable     ItemType = "table"
	TypeCSVTable  ItemType = "csv-as-table"
	TypeMetric    ItemType = "metric"
	TypeInsight   ItemType = "insight"
	TypeFile      ItemType = "file"
)

// ValidItemTypes lists the item types the store accepts.
var ValidItemTypes = map[ItemType]bool{
	TypeChartSpec: true,
	TypeImage:     true,
	TypeTable:     true,
	TypeCSVTable:  true,
	TypeMetric:    true,
	TypeInsight:   true,
	TypeFile:      true,
}

// Source records how an item entered the store.
type Source string

const (
	SourceRealtime  Source = "realtime"  // streamed while the request was in flight
	SourceCompleted Source = "completed" // delivered with the final batch
	SourceCached    Source = "cached"    // served from a client-side cache
	SourceRestored  Source = "restored"  // loaded from persisted history
)

// Meta ties an item back to its conversational context.
type Meta struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
	RequestID string `json:"requestId,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
}

// Item is one normalized analysis artifact. Items are never mutated after
// creation; a later batch for the same (session, message) supersedes them.
type Item struct {
	ID     string   `json:"id"`
	Type   ItemType `json:"type"`
	Data   any      `json:"data"`
	Meta   Meta     `json:"metadata"`
	Source Source   `json:"source"`
}

// Batch is the unit of transfer for one ingestion event. Multiple batches
// for the same (session, message) may arrive while a request streams
// partial results; IsComplete marks the authoritative final batch.
type Batch struct {
	SessionID  string `json:"sessionId"`
	MessageID  string `json:"messageId"`
	RequestID  string `json:"requestId"`
	Items      []Item `json:"items"`
	IsComplete bool   `json:"isComplete"`
	Timestamp  int64  `json:"timestamp"`
}

// TablePayload is the normalized shape for table and csv-as-table items.
type TablePayload struct {
	Title   string           `json:"title,omitempty"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// MetricPayload is a single headline figure.
type MetricPayload struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Delta string `json:"delta,omitempty"`
	Unit  string `json:"unit,omitempty"`
}

// InsightPayload is a short textual finding.
type InsightPayload struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// FilePayload describes a file produced by the analysis.
type FilePayload struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	Preview string `json:"preview,omitempty"`
}

// RestoreStats summarizes one restoration pass so a consumer can tell
// "restored with data" from "restored empty" from "restoration failed".
type RestoreStats struct {
	SessionID    string           `json:"sessionId"`
	MessageID    string           `json:"messageId"`
	TotalItems   int              `json:"totalItems"`
	ValidItems   int              `json:"validItems"`
	InvalidItems int              `json:"invalidItems"`
	ItemsByType  map[ItemType]int `json:"itemsByType"`
	Errors       []string         `json:"errors,omitempty"`
}
