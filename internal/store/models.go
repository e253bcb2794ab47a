package store

import "time"

type Account struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Team struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Annotation is a comment, highlight, or bookmark attached to a courseware
// element. The id never changes after creation; the version is regenerated on
// every content update.
type Annotation struct {
	ID               string
	Version          string
	RootElementID    string
	ElementID        string
	Motivation       string
	CreatorAccountID string
	BodyJSON         string
	TargetJSON       string
	Resolved         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AnnotationReadReceipt marks an annotation as read by one account. Composite
// key, not versioned.
type AnnotationReadReceipt struct {
	RootElementID string
	ElementID     string
	AnnotationID  string
	AccountID     string
	CreatedAt     time.Time
}

// Document is a competency document scoping items and associations. Version
// is time-ordered and bumped by every item/association mutation.
type Document struct {
	ID          string
	WorkspaceID string
	Title       string
	Version     string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentItem is a node in the competency graph.
type DocumentItem struct {
	ID                   string
	DocumentID           string
	FullStatement        string
	AbbreviatedStatement string
	HumanCodingScheme    string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ItemAssociation is a typed edge between two document items.
type ItemAssociation struct {
	ID                string
	DocumentID        string
	OriginItemID      string
	DestinationItemID string
	AssociationType   string
	CreatedAt         time.Time
}

// Permission maps a subject (account or team) and resource to a level. One
// row per (subject, resource) pair.
type Permission struct {
	SubjectType  string // "account" or "team"
	SubjectID    string
	ResourceType string // "workspace", "project", "document", "theme"
	ResourceID   string
	Level        string
	GrantedBy    string
	GrantedAt    time.Time
}

// Collaborator is the denormalized listing view kept alongside permissions.
type Collaborator struct {
	ResourceType string
	ResourceID   string
	SubjectType  string
	SubjectID    string
	Level        string
	UpdatedAt    time.Time
}
