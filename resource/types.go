package resource

import "time"

// Binary marks a record field whose bytes are promoted to the blob store
// before the payload is serialized. On the wire, only the reference survives;
// Data is elided unless the caller explicitly dereferences it through
// Manager.GetBlob.
type Binary struct {
	FileID      string `json:"file_id,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

// RevisionStatus is the lifecycle state of a single revision.
type RevisionStatus string

// the two revision statuses the manager ever writes.
const (
	StatusDraft  RevisionStatus = "draft"
	StatusStable RevisionStatus = "stable"
)

// RevisionInfo is the immutable metadata attached to one revision.
type RevisionInfo struct {
	UID              string         `json:"uid"`
	ResourceID       string         `json:"resource_id"`
	RevisionID       string         `json:"revision_id"`
	ParentRevisionID string         `json:"parent_revision_id,omitempty"`
	Status           RevisionStatus `json:"status"`
	SchemaVersion    string         `json:"schema_version,omitempty"`
	DataHash         string         `json:"data_hash"`
	CreatedTime      time.Time      `json:"created_time"`
	CreatedBy        string         `json:"created_by"`
	UpdatedTime      time.Time      `json:"updated_time"`
	UpdatedBy        string         `json:"updated_by"`
}

// ResourceMeta is the single mutable record that always reflects a
// resource's current state.
type ResourceMeta struct {
	ResourceID         string                 `json:"resource_id"`
	CurrentRevisionID  string                 `json:"current_revision_id"`
	TotalRevisionCount int                    `json:"total_revision_count"`
	CreatedTime        time.Time              `json:"created_time"`
	CreatedBy          string                 `json:"created_by"`
	UpdatedTime        time.Time              `json:"updated_time"`
	UpdatedBy          string                 `json:"updated_by"`
	IsDeleted          bool                   `json:"is_deleted"`
	SchemaVersion      string                 `json:"schema_version,omitempty"`
	IndexedData        map[string]interface{} `json:"indexed_data,omitempty"`
}

// FieldTransform is a declared unary operation applied to an indexed value
// before it is compared against a condition's operand.
type FieldTransform string

// the two supported transforms.
const (
	TransformIdentity FieldTransform = "identity"
	TransformLength   FieldTransform = "length"
)

// IndexableField declares one dotted path into the payload that is
// projected into ResourceMeta.IndexedData on every write, so that queries
// over it never need to decode the full payload.
type IndexableField struct {
	FieldPath string
	Transform FieldTransform
}

// ReturnSection selects which bucket of a resource a caller wants back.
type ReturnSection string

// the three sections a FullResourceResponse may carry.
const (
	ReturnData ReturnSection = "data"
	ReturnInfo ReturnSection = "info"
	ReturnMeta ReturnSection = "meta"
)

// FullResourceResponse is what get/list/search hand back to callers, with
// each section optional depending on the requested Returns/partial paths.
type FullResourceResponse struct {
	Data         interface{}            `json:"data,omitempty"`
	RevisionInfo *RevisionInfo          `json:"revision_info,omitempty"`
	Meta         *ResourceMeta          `json:"meta,omitempty"`
	Partial      map[string]interface{} `json:"partial,omitempty"`
}
