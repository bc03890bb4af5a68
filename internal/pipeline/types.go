package pipeline

import (
	"path/filepath"
	"strings"
)

// WorkItem identifies one unit of work flowing through the pipeline.
type WorkItem struct {
	// ID is stable across trigger paths and retries.
	ID string
	// Name is the human-readable filename.
	Name string
	// Locator is opaque to the engine; collaborators resolve it.
	Locator string
	// Metadata is forwarded to notifications and the ledger.
	Metadata map[string]string
}

// Label returns the most readable identifier for log lines and notifications.
func (w WorkItem) Label() string {
	if name := strings.TrimSpace(w.Name); name != "" {
		return name
	}
	return w.ID
}

// Key names the underlying source record so that poll and push runs of the
// same file agree: the source file name without its extension when known,
// otherwise ID.
func (w WorkItem) Key() string {
	if src := strings.TrimSpace(w.Meta(MetaSourcePath)); src != "" {
		name := filepath.Base(src)
		return strings.TrimSuffix(name, filepath.Ext(name))
	}
	return w.ID
}

// Meta returns a metadata value or "" when absent.
func (w WorkItem) Meta(key string) string {
	if w.Metadata == nil {
		return ""
	}
	return w.Metadata[key]
}

// Metadata keys shared by the push endpoint, the inbox and the ledger.
const (
	MetaRowNumber   = "row_number"
	MetaDescription = "description"
	MetaSourcePath  = "source_path"
)

// StageResult is the outcome of one pipeline stage invocation.
type StageResult struct {
	Success   bool
	Artifacts []string
	Error     string
}

// Failed builds an unsuccessful StageResult from err.
func Failed(err error) StageResult {
	if err == nil {
		return StageResult{}
	}
	return StageResult{Error: err.Error()}
}

// Succeeded builds a successful StageResult carrying artifacts.
func Succeeded(artifacts ...string) StageResult {
	return StageResult{Success: true, Artifacts: artifacts}
}

// TransmitOutcome is the outcome of one transmission attempt over a batch.
type TransmitOutcome struct {
	Total      int
	Successful int
	Failed     int
	FailedRefs []string
}

// Ratio returns Successful/Total, or 0 for an empty batch.
func (o TransmitOutcome) Ratio() float64 {
	if o.Total <= 0 {
		return 0
	}
	return float64(o.Successful) / float64(o.Total)
}
