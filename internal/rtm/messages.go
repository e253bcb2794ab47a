package rtm

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"courseware/api/internal/apperr"
)

// Envelope is the inbound wire format: an opaque request id used to correlate
// the reply, the operation type, and the operation's parameters inline.
type Envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Operation types accepted over the socket.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	TypeAnnotationCreate    = "annotation.create"
	TypeAnnotationUpdate    = "annotation.update"
	TypeAnnotationDelete    = "annotation.delete"
	TypeAnnotationFind      = "annotation.find"
	TypeAnnotationMove      = "annotation.move"
	TypeAnnotationResolve   = "annotation.resolve"
	TypeAnnotationRead      = "annotation.read"
	TypeAnnotationAggregate = "annotation.aggregate"

	TypeDocumentCreate     = "document.create"
	TypeDocumentDelete     = "document.delete"
	TypeItemCreate         = "item.create"
	TypeItemUpdate         = "item.update"
	TypeItemDelete         = "item.delete"
	TypeItemLink           = "item.link"
	TypeItemPublish        = "item.publish"
	TypeAssociationCreate  = "association.create"
	TypeAssociationDelete  = "association.delete"
	TypeAssociationPublish = "association.publish"
)

type SubscribeMessage struct {
	Topic string `json:"topic" validate:"required"`
}

type CreateAnnotationMessage struct {
	AnnotationID     string `json:"annotationId,omitempty"`
	RootElementID    string `json:"rootElementId" validate:"required"`
	ElementID        string `json:"elementId" validate:"required"`
	Motivation       string `json:"motivation" validate:"required"`
	CreatorAccountID string `json:"creatorAccountId" validate:"required"`
	BodyJSON         string `json:"body,omitempty"`
	TargetJSON       string `json:"target,omitempty"`
}

type UpdateAnnotationMessage struct {
	AnnotationID string `json:"annotationId" validate:"required"`
	BodyJSON     string `json:"body" validate:"required"`
	TargetJSON   string `json:"target" validate:"required"`
}

type DeleteAnnotationMessage struct {
	AnnotationID  string `json:"annotationId" validate:"required"`
	RootElementID string `json:"rootElementId" validate:"required"`
	ElementID     string `json:"elementId,omitempty"`
}

type FindAnnotationsMessage struct {
	RootElementID string `json:"rootElementId" validate:"required"`
	ElementID     string `json:"elementId" validate:"required"`
	Motivation    string `json:"motivation" validate:"required"`
}

type MoveAnnotationsMessage struct {
	ElementID        string `json:"elementId" validate:"required"`
	RootElementID    string `json:"rootElementId" validate:"required"`
	NewRootElementID string `json:"newRootElementId" validate:"required"`
}

// Resolved and Read are pointers so an absent flag is distinguishable from an
// explicit false and yields its own validation message.
type ResolveCommentsMessage struct {
	AnnotationIDs []string `json:"annotationIds" validate:"required,min=1"`
	Resolved      *bool    `json:"resolved" validate:"required"`
	RootElementID string   `json:"rootElementId" validate:"required"`
	ElementID     string   `json:"elementId" validate:"required"`
}

type ReadCommentsMessage struct {
	RootElementID string   `json:"rootElementId" validate:"required"`
	ElementID     string   `json:"elementId" validate:"required"`
	AnnotationIDs []string `json:"annotationIds" validate:"required,min=1"`
	Read          *bool    `json:"read" validate:"required"`
	AccountID     string   `json:"accountId" validate:"required"`
}

type AggregateAnnotationsMessage struct {
	RootElementID string `json:"rootElementId" validate:"required"`
	ElementID     string `json:"elementId" validate:"required"`
	AccountID     string `json:"accountId" validate:"required"`
}

type CreateDocumentMessage struct {
	WorkspaceID string `json:"workspaceId" validate:"required"`
	Title       string `json:"title" validate:"required"`
	CreatedBy   string `json:"createdBy" validate:"required"`
}

type DeleteDocumentMessage struct {
	DocumentID string `json:"documentId" validate:"required"`
}

type CreateItemMessage struct {
	DocumentID           string `json:"documentId" validate:"required"`
	FullStatement        string `json:"fullStatement" validate:"required"`
	AbbreviatedStatement string `json:"abbreviatedStatement,omitempty"`
	HumanCodingScheme    string `json:"humanCodingScheme,omitempty"`
}

type UpdateItemMessage struct {
	ItemID               string `json:"itemId" validate:"required"`
	DocumentID           string `json:"documentId" validate:"required"`
	FullStatement        string `json:"fullStatement" validate:"required"`
	AbbreviatedStatement string `json:"abbreviatedStatement,omitempty"`
	HumanCodingScheme    string `json:"humanCodingScheme,omitempty"`
}

type DeleteItemMessage struct {
	DocumentID string `json:"documentId" validate:"required"`
	ItemID     string `json:"itemId" validate:"required"`
}

type LinkItemMessage struct {
	ItemID              string `json:"itemId" validate:"required"`
	CoursewareElementID string `json:"coursewareElementId" validate:"required"`
}

type PublishItemMessage struct {
	ItemID string `json:"itemId" validate:"required"`
}

type CreateAssociationMessage struct {
	DocumentID        string `json:"documentId" validate:"required"`
	OriginItemID      string `json:"originItemId" validate:"required"`
	DestinationItemID string `json:"destinationItemId" validate:"required"`
	AssociationType   string `json:"associationType" validate:"required"`
}

type DeleteAssociationMessage struct {
	DocumentID    string `json:"documentId" validate:"required"`
	AssociationID string `json:"associationId" validate:"required"`
}

type PublishAssociationMessage struct {
	AssociationID string `json:"associationId" validate:"required"`
}

// newValidator reports field names from json tags so validation failures can
// name the wire-level parameter.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeMessage unmarshals the raw envelope into dst and validates it. A
// failed check surfaces as a missing-field validation error naming the first
// offending parameter.
func decodeMessage(v *validator.Validate, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Invalid("malformed message payload")
	}
	if err := v.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return apperr.Invalid("missing " + fieldErrs[0].Field())
		}
		return apperr.Invalid("malformed message payload")
	}
	return nil
}
