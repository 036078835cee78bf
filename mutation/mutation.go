// Package mutation defines the structured DOM-change events flowing from a
// page binding into the quell core. These are the public contract: the
// auto-apply scheduler and the navigation watcher consume Records, never raw
// browser events.
package mutation

// Op is the kind of DOM change observed.
type Op string

const (
	OpInsert   Op = "insert"    // node added to the document
	OpRemove   Op = "remove"    // node removed from the document
	OpAttr     Op = "attr"      // attribute changed
	OpText     Op = "text"      // character data changed
	OpDocReset Op = "doc_reset" // entire document replaced
)

// Record is a single DOM mutation, reduced to the fields the core inspects.
type Record struct {
	Op      Op       `json:"op"`
	Tag     string   `json:"tag,omitempty"`
	Role    string   `json:"role,omitempty"`
	ID      string   `json:"id,omitempty"`
	Classes []string `json:"classes,omitempty"`
	Name    string   `json:"name,omitempty"` // attribute name for attr ops
}

// Batch is one debounce window's worth of records from a page binding.
type Batch struct {
	PageURL   string   `json:"page_url"`
	Seq       uint64   `json:"seq"`
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds at flush
}
