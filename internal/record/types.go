package record

import "time"

// Status is a document's lifecycle position.
type Status string

const (
	StatusQueued             Status = "queued"
	StatusUploading          Status = "uploading"
	StatusOnDevice           Status = "on_device"
	StatusReadDetected       Status = "read_detected"
	StatusProcessing         Status = "processing"
	StatusAwaitingAttachment Status = "awaiting_attachment"
	StatusProcessed          Status = "processed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusQueued,
	StatusUploading,
	StatusOnDevice,
	StatusReadDetected,
	StatusProcessing,
	StatusAwaitingAttachment,
	StatusProcessed,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Region is a rectangle in PDF user space (origin bottom-left) on one page.
type Region struct {
	PageIndex int     `json:"page_index"`
	X0        float64 `json:"x0"`
	Y0        float64 `json:"y0"`
	X1        float64 `json:"x1"`
	Y1        float64 `json:"y1"`
}

// Excerpt is a merged, deduplicated passage in reading order.
//
// EndPageIndex differs from PageIndex only for passages continued across
// a page break. Regions stays empty when the passage could not be located
// in the document's text layer.
type Excerpt struct {
	PageIndex         int      `json:"page_index"`
	EndPageIndex      int      `json:"end_page_index"`
	ColumnIndex       int      `json:"column_index"`
	Regions           []Region `json:"bounding_regions"`
	Text              string   `json:"text"`
	SourceFragmentIDs []string `json:"source_fragment_ids"`
	// Position is where the passage starts on its first page, as a fraction
	// of the page height from the top. Zero when the page height is unknown.
	Position          float64  `json:"position,omitempty"`
}

// Matched reports whether the annotator located the passage.
func (e Excerpt) Matched() bool {
	return len(e.Regions) > 0
}

// Metadata is the reference-store view of a document, cached on the record
// so the reconciler can diff it against the current state.
type Metadata struct {
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	Date     string   `json:"date,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	URL      string   `json:"url,omitempty"`
	ItemType string   `json:"item_type,omitempty"`
	// Citekey is an externally supplied key (Better BibTeX); empty when the
	// key is derived.
	Citekey string `json:"citekey,omitempty"`
	Version int64  `json:"version"`
}

// Progress marks the processing sub-steps already reflected in the record.
// A resumed run skips every step marked done.
type Progress struct {
	Extracted   bool     `json:"extracted,omitempty"`
	Annotated   bool     `json:"annotated,omitempty"`
	NoteWritten bool     `json:"note_written,omitempty"`
	WrittenBack bool     `json:"written_back,omitempty"`
	Archived    bool     `json:"archived,omitempty"`
	Degraded    []string `json:"degraded,omitempty"`
}

// DocumentRecord is the durable state of one tracked paper.
type DocumentRecord struct {
	// Seq is the store creation order, assigned once.
	Seq                int64      `json:"seq"`
	ExternalID         string     `json:"external_id"`
	AttachmentID       string     `json:"attachment_id,omitempty"`
	Citekey            string     `json:"citekey"`
	ContentFingerprint string     `json:"content_fingerprint,omitempty"`
	DeviceDocumentID   string     `json:"device_document_id,omitempty"`
	DeviceFolder       string     `json:"device_folder,omitempty"`
	Status             Status     `json:"status"`
	Metadata           Metadata   `json:"metadata"`
	Excerpts           []Excerpt  `json:"excerpts"`
	Progress           Progress   `json:"progress"`
	Engagement         Engagement `json:"engagement,omitzero"`
	VersionWatermark   int64      `json:"version_watermark"`
	QueuedAt           time.Time  `json:"queued_at"`
	ReadAt             time.Time  `json:"read_at,omitzero"`
	ProcessedAt        time.Time  `json:"processed_at,omitzero"`
}

// New creates a queued record for a newly observed reference item.
func New(externalID string, meta Metadata, now time.Time) *DocumentRecord {
	return &DocumentRecord{
		ExternalID:       externalID,
		Status:           StatusQueued,
		Metadata:         meta,
		Excerpts:         []Excerpt{},
		VersionWatermark: meta.Version,
		QueuedAt:         now.UTC(),
	}
}

// Clone returns a deep copy so callers can plan against a record without
// mutating the stored value.
func (r *DocumentRecord) Clone() *DocumentRecord {
	c := *r
	c.Metadata.Authors = append([]string(nil), r.Metadata.Authors...)
	c.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	c.Progress.Degraded = append([]string(nil), r.Progress.Degraded...)
	c.Excerpts = make([]Excerpt, len(r.Excerpts))
	for i, e := range r.Excerpts {
		e.Regions = append([]Region(nil), e.Regions...)
		e.SourceFragmentIDs = append([]string(nil), e.SourceFragmentIDs...)
		c.Excerpts[i] = e
	}
	return &c
}

// MarkDegraded records a non-blocking reduced-output outcome once.
func (r *DocumentRecord) MarkDegraded(reason string) {
	for _, d := range r.Progress.Degraded {
		if d == reason {
			return
		}
	}
	r.Progress.Degraded = append(r.Progress.Degraded, reason)
}

// Degraded reports whether any processing step produced reduced output.
func (r *DocumentRecord) Degraded() bool {
	return len(r.Progress.Degraded) > 0
}
