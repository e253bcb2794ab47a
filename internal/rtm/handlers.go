package rtm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"courseware/api/internal/annotation"
	"courseware/api/internal/apperr"
	"courseware/api/internal/store"
)

// AnnotationService is the slice of the annotation domain the socket exposes.
type AnnotationService interface {
	Create(ctx context.Context, a store.Annotation) (store.Annotation, error)
	CreateWithID(ctx context.Context, a store.Annotation, annotationID string) (store.Annotation, error)
	Update(ctx context.Context, annotationID, bodyJSON, targetJSON string) (store.Annotation, error)
	FindByElement(ctx context.Context, rootElementID, elementID, motivation string) ([]store.Annotation, error)
	Delete(ctx context.Context, annotationID string) error
	Move(ctx context.Context, elementID, rootElementID, newRootElementID string) (int64, error)
	ResolveComments(ctx context.Context, annotationIDs []string, resolved bool) error
	ReadComments(ctx context.Context, rootElementID, elementID string, annotationIDs []string, read bool, accountID string) error
	AggregateComments(ctx context.Context, rootElementID, elementID, accountID string) (annotation.Aggregate, error)
}

type DocumentService interface {
	Create(ctx context.Context, doc store.Document) (store.Document, error)
	Delete(ctx context.Context, documentID string) error
}

type ItemService interface {
	Create(ctx context.Context, item store.DocumentItem) (store.DocumentItem, error)
	Update(ctx context.Context, item store.DocumentItem) (store.DocumentItem, error)
	Delete(ctx context.Context, documentID, itemID string) error
	Link(ctx context.Context, itemID, coursewareElementID string) error
}

type AssociationService interface {
	Create(ctx context.Context, assoc store.ItemAssociation) (store.ItemAssociation, error)
	Delete(ctx context.Context, documentID, associationID string) error
}

type PublishService interface {
	PublishItem(ctx context.Context, itemID string) error
	PublishAssociation(ctx context.Context, associationID string) error
}

// Router decodes inbound envelopes, dispatches to the matching handler, and
// writes the reply frame back on the client's outbound channel. Successful
// mutations additionally publish a broadcast event to the bus.
type Router struct {
	hub          *Hub
	bus          Bus
	annotations  AnnotationService
	documents    DocumentService
	items        ItemService
	associations AssociationService
	publisher    PublishService
	validate     *validator.Validate
	log          zerolog.Logger
}

func NewRouter(hub *Hub, bus Bus, annotations AnnotationService, documents DocumentService, items ItemService, associations AssociationService, publisher PublishService, log zerolog.Logger) *Router {
	return &Router{
		hub:          hub,
		bus:          bus,
		annotations:  annotations,
		documents:    documents,
		items:        items,
		associations: associations,
		publisher:    publisher,
		validate:     newValidator(),
		log:          log.With().Str("component", "rtm.router").Logger(),
	}
}

// fallbackMessages maps each operation to the generic failure text used when
// a service error carries no domain code.
var fallbackMessages = map[string]string{
	TypeSubscribe:           "unable to subscribe",
	TypeUnsubscribe:         "unable to unsubscribe",
	TypeAnnotationCreate:    "unable to create annotation",
	TypeAnnotationUpdate:    "unable to update annotation",
	TypeAnnotationDelete:    "unable to delete annotation",
	TypeAnnotationFind:      "unable to find annotations",
	TypeAnnotationMove:      "unable to move annotations",
	TypeAnnotationResolve:   "unable to resolve comments",
	TypeAnnotationRead:      "unable to read comments",
	TypeAnnotationAggregate: "unable to aggregate annotations",
	TypeDocumentCreate:      "unable to create document",
	TypeDocumentDelete:      "unable to delete document",
	TypeItemCreate:          "unable to create item",
	TypeItemUpdate:          "unable to update item",
	TypeItemDelete:          "unable to delete item",
	TypeItemLink:            "unable to link item",
	TypeItemPublish:         "unable to publish item",
	TypeAssociationCreate:   "unable to create association",
	TypeAssociationDelete:   "unable to delete association",
	TypeAssociationPublish:  "unable to publish association",
}

// annotationDTO is the wire shape of an annotation.
type annotationDTO struct {
	ID               string `json:"annotationId"`
	Version          string `json:"version"`
	RootElementID    string `json:"rootElementId"`
	ElementID        string `json:"elementId"`
	Motivation       string `json:"motivation"`
	CreatorAccountID string `json:"creatorAccountId"`
	BodyJSON         string `json:"body"`
	TargetJSON       string `json:"target"`
	Resolved         bool   `json:"resolved"`
}

func toDTO(a store.Annotation) annotationDTO {
	return annotationDTO{
		ID:               a.ID,
		Version:          a.Version,
		RootElementID:    a.RootElementID,
		ElementID:        a.ElementID,
		Motivation:       a.Motivation,
		CreatorAccountID: a.CreatorAccountID,
		BodyJSON:         a.BodyJSON,
		TargetJSON:       a.TargetJSON,
		Resolved:         a.Resolved,
	}
}

func toDTOs(annotations []store.Annotation) []annotationDTO {
	dtos := make([]annotationDTO, 0, len(annotations))
	for _, a := range annotations {
		dtos = append(dtos, toDTO(a))
	}
	return dtos
}

type documentDTO struct {
	ID          string `json:"documentId"`
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Version     string `json:"version"`
	CreatedBy   string `json:"createdBy"`
}

func toDocumentDTO(doc store.Document) documentDTO {
	return documentDTO{
		ID:          doc.ID,
		WorkspaceID: doc.WorkspaceID,
		Title:       doc.Title,
		Version:     doc.Version,
		CreatedBy:   doc.CreatedBy,
	}
}

type itemDTO struct {
	ID                   string `json:"itemId"`
	DocumentID           string `json:"documentId"`
	FullStatement        string `json:"fullStatement"`
	AbbreviatedStatement string `json:"abbreviatedStatement,omitempty"`
	HumanCodingScheme    string `json:"humanCodingScheme,omitempty"`
}

func toItemDTO(item store.DocumentItem) itemDTO {
	return itemDTO{
		ID:                   item.ID,
		DocumentID:           item.DocumentID,
		FullStatement:        item.FullStatement,
		AbbreviatedStatement: item.AbbreviatedStatement,
		HumanCodingScheme:    item.HumanCodingScheme,
	}
}

type associationDTO struct {
	ID                string `json:"associationId"`
	DocumentID        string `json:"documentId"`
	OriginItemID      string `json:"originItemId"`
	DestinationItemID string `json:"destinationItemId"`
	AssociationType   string `json:"associationType"`
}

func toAssociationDTO(assoc store.ItemAssociation) associationDTO {
	return associationDTO{
		ID:                assoc.ID,
		DocumentID:        assoc.DocumentID,
		OriginItemID:      assoc.OriginItemID,
		DestinationItemID: assoc.DestinationItemID,
		AssociationType:   assoc.AssociationType,
	}
}

// Dispatch handles one raw inbound message for a connected client.
func (r *Router) Dispatch(ctx context.Context, client *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		r.send(client, Frame{
			Type:    "error",
			Code:    http.StatusUnprocessableEntity,
			Message: "malformed message",
		})
		return
	}

	response, event, err := r.handle(ctx, client, env.Type, raw)
	if err != nil {
		r.send(client, errorFrame(env, err))
		return
	}

	r.send(client, Frame{
		Type:     env.Type + ".ok",
		ReplyTo:  env.ID,
		Response: response,
	})

	if event != nil {
		event.OriginClientID = client.ID
		if err := r.bus.Publish(ctx, *event); err != nil {
			r.log.Error().Err(err).Str("topic", event.Topic).Msg("event publish failed")
		}
	}
}

func (r *Router) handle(ctx context.Context, client *Client, msgType string, raw json.RawMessage) (any, *Event, error) {
	switch msgType {
	case TypeSubscribe:
		var msg SubscribeMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		r.hub.Subscribe(client, msg.Topic)
		return map[string]string{"topic": msg.Topic}, nil, nil

	case TypeUnsubscribe:
		var msg SubscribeMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		r.hub.Unsubscribe(client, msg.Topic)
		return map[string]string{"topic": msg.Topic}, nil, nil

	case TypeAnnotationCreate:
		return r.handleAnnotationCreate(ctx, raw)

	case TypeAnnotationUpdate:
		var msg UpdateAnnotationMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		updated, err := r.annotations.Update(ctx, msg.AnnotationID, msg.BodyJSON, msg.TargetJSON)
		if err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       updated.RootElementID,
			Type:        "annotation.updated",
			ElementID:   updated.ElementID,
			ElementType: "annotation",
			ParentID:    updated.RootElementID,
			AccountID:   updated.CreatorAccountID,
			Action:      "updated",
			Payload:     toDTO(updated),
		}
		return toDTO(updated), event, nil

	case TypeAnnotationDelete:
		var msg DeleteAnnotationMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		if err := r.annotations.Delete(ctx, msg.AnnotationID); err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       msg.RootElementID,
			Type:        "annotation.deleted",
			ElementID:   msg.ElementID,
			ElementType: "annotation",
			ParentID:    msg.RootElementID,
			Action:      "deleted",
			Payload:     map[string]string{"annotationId": msg.AnnotationID},
		}
		return map[string]string{"annotationId": msg.AnnotationID}, event, nil

	case TypeAnnotationFind:
		var msg FindAnnotationsMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		found, err := r.annotations.FindByElement(ctx, msg.RootElementID, msg.ElementID, msg.Motivation)
		if err != nil {
			return nil, nil, err
		}
		return toDTOs(found), nil, nil

	case TypeAnnotationMove:
		var msg MoveAnnotationsMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		moved, err := r.annotations.Move(ctx, msg.ElementID, msg.RootElementID, msg.NewRootElementID)
		if err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       msg.RootElementID,
			Type:        "annotation.moved",
			ElementID:   msg.ElementID,
			ElementType: "annotation",
			ParentID:    msg.NewRootElementID,
			Action:      "moved",
			Payload:     map[string]any{"elementId": msg.ElementID, "newRootElementId": msg.NewRootElementID, "moved": moved},
		}
		return map[string]int64{"moved": moved}, event, nil

	case TypeAnnotationResolve:
		var msg ResolveCommentsMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		if err := r.annotations.ResolveComments(ctx, msg.AnnotationIDs, *msg.Resolved); err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       msg.RootElementID,
			Type:        "annotation.resolved",
			ElementID:   msg.ElementID,
			ElementType: "annotation",
			ParentID:    msg.RootElementID,
			Action:      "resolved",
			Payload:     map[string]any{"annotationIds": msg.AnnotationIDs, "resolved": *msg.Resolved},
		}
		return map[string]any{"annotationIds": msg.AnnotationIDs}, event, nil

	case TypeAnnotationRead:
		var msg ReadCommentsMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		if err := r.annotations.ReadComments(ctx, msg.RootElementID, msg.ElementID, msg.AnnotationIDs, *msg.Read, msg.AccountID); err != nil {
			return nil, nil, err
		}
		return map[string]any{"annotationIds": msg.AnnotationIDs, "read": *msg.Read}, nil, nil

	case TypeAnnotationAggregate:
		var msg AggregateAnnotationsMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		agg, err := r.annotations.AggregateComments(ctx, msg.RootElementID, msg.ElementID, msg.AccountID)
		if err != nil {
			return nil, nil, err
		}
		return agg, nil, nil

	case TypeDocumentCreate:
		var msg CreateDocumentMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		created, err := r.documents.Create(ctx, store.Document{
			WorkspaceID: msg.WorkspaceID,
			Title:       msg.Title,
			CreatedBy:   msg.CreatedBy,
		})
		if err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       created.ID,
			Type:        "document.created",
			ElementID:   created.ID,
			ElementType: "document",
			ParentID:    created.WorkspaceID,
			AccountID:   created.CreatedBy,
			Action:      "created",
			Payload:     toDocumentDTO(created),
		}
		return toDocumentDTO(created), event, nil

	case TypeDocumentDelete:
		var msg DeleteDocumentMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		if err := r.documents.Delete(ctx, msg.DocumentID); err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       msg.DocumentID,
			Type:        "document.deleted",
			ElementID:   msg.DocumentID,
			ElementType: "document",
			Action:      "deleted",
			Payload:     map[string]string{"documentId": msg.DocumentID},
		}
		return map[string]string{"documentId": msg.DocumentID}, event, nil

	case TypeItemCreate:
		var msg CreateItemMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		created, err := r.items.Create(ctx, store.DocumentItem{
			DocumentID:           msg.DocumentID,
			FullStatement:        msg.FullStatement,
			AbbreviatedStatement: msg.AbbreviatedStatement,
			HumanCodingScheme:    msg.HumanCodingScheme,
		})
		if err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       created.DocumentID,
			Type:        "item.created",
			ElementID:   created.ID,
			ElementType: "item",
			ParentID:    created.DocumentID,
			Action:      "created",
			Payload:     toItemDTO(created),
		}
		return toItemDTO(created), event, nil

	case TypeItemUpdate:
		var msg UpdateItemMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		updated, err := r.items.Update(ctx, store.DocumentItem{
			ID:                   msg.ItemID,
			DocumentID:           msg.DocumentID,
			FullStatement:        msg.FullStatement,
			AbbreviatedStatement: msg.AbbreviatedStatement,
			HumanCodingScheme:    msg.HumanCodingScheme,
		})
		if err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       updated.DocumentID,
			Type:        "item.updated",
			ElementID:   updated.ID,
			ElementType: "item",
			ParentID:    updated.DocumentID,
			Action:      "updated",
			Payload:     toItemDTO(updated),
		}
		return toItemDTO(updated), event, nil

	case TypeItemLink:
		var msg LinkItemMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		if err := r.items.Link(ctx, msg.ItemID, msg.CoursewareElementID); err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       msg.CoursewareElementID,
			Type:        "item.linked",
			ElementID:   msg.ItemID,
			ElementType: "item",
			ParentID:    msg.CoursewareElementID,
			Action:      "linked",
			Payload:     map[string]string{"itemId": msg.ItemID, "coursewareElementId": msg.CoursewareElementID},
		}
		return map[string]string{"itemId": msg.ItemID, "coursewareElementId": msg.CoursewareElementID}, event, nil

	case TypeItemPublish:
		var msg PublishItemMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		if err := r.publisher.PublishItem(ctx, msg.ItemID); err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       msg.ItemID,
			Type:        "item.published",
			ElementID:   msg.ItemID,
			ElementType: "item",
			Action:      "published",
			Payload:     map[string]string{"itemId": msg.ItemID},
		}
		return map[string]string{"itemId": msg.ItemID}, event, nil

	case TypeAssociationCreate:
		var msg CreateAssociationMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		created, err := r.associations.Create(ctx, store.ItemAssociation{
			DocumentID:        msg.DocumentID,
			OriginItemID:      msg.OriginItemID,
			DestinationItemID: msg.DestinationItemID,
			AssociationType:   msg.AssociationType,
		})
		if err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       created.DocumentID,
			Type:        "association.created",
			ElementID:   created.ID,
			ElementType: "association",
			ParentID:    created.DocumentID,
			Action:      "created",
			Payload:     toAssociationDTO(created),
		}
		return toAssociationDTO(created), event, nil

	case TypeAssociationPublish:
		var msg PublishAssociationMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		if err := r.publisher.PublishAssociation(ctx, msg.AssociationID); err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       msg.AssociationID,
			Type:        "association.published",
			ElementID:   msg.AssociationID,
			ElementType: "association",
			Action:      "published",
			Payload:     map[string]string{"associationId": msg.AssociationID},
		}
		return map[string]string{"associationId": msg.AssociationID}, event, nil

	case TypeItemDelete:
		var msg DeleteItemMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		if err := r.items.Delete(ctx, msg.DocumentID, msg.ItemID); err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       msg.DocumentID,
			Type:        "item.deleted",
			ElementID:   msg.ItemID,
			ElementType: "item",
			ParentID:    msg.DocumentID,
			Action:      "deleted",
			Payload:     map[string]string{"itemId": msg.ItemID},
		}
		return map[string]string{"itemId": msg.ItemID}, event, nil

	case TypeAssociationDelete:
		var msg DeleteAssociationMessage
		if err := decodeMessage(r.validate, raw, &msg); err != nil {
			return nil, nil, err
		}
		if err := r.associations.Delete(ctx, msg.DocumentID, msg.AssociationID); err != nil {
			return nil, nil, err
		}
		event := &Event{
			Topic:       msg.DocumentID,
			Type:        "association.deleted",
			ElementID:   msg.AssociationID,
			ElementType: "association",
			ParentID:    msg.DocumentID,
			Action:      "deleted",
			Payload:     map[string]string{"associationId": msg.AssociationID},
		}
		return map[string]string{"associationId": msg.AssociationID}, event, nil

	default:
		return nil, nil, apperr.Invalidf("unknown message type %s", msgType)
	}
}

func (r *Router) handleAnnotationCreate(ctx context.Context, raw json.RawMessage) (any, *Event, error) {
	var msg CreateAnnotationMessage
	if err := decodeMessage(r.validate, raw, &msg); err != nil {
		return nil, nil, err
	}

	a := store.Annotation{
		RootElementID:    msg.RootElementID,
		ElementID:        msg.ElementID,
		Motivation:       msg.Motivation,
		CreatorAccountID: msg.CreatorAccountID,
		BodyJSON:         msg.BodyJSON,
		TargetJSON:       msg.TargetJSON,
	}

	var created store.Annotation
	var err error
	if msg.AnnotationID != "" {
		created, err = r.annotations.CreateWithID(ctx, a, msg.AnnotationID)
	} else {
		created, err = r.annotations.Create(ctx, a)
	}
	if err != nil {
		return nil, nil, err
	}

	event := &Event{
		Topic:       created.RootElementID,
		Type:        "annotation.created",
		ElementID:   created.ElementID,
		ElementType: "annotation",
		ParentID:    created.RootElementID,
		AccountID:   created.CreatorAccountID,
		Action:      "created",
		Payload:     toDTO(created),
	}
	return toDTO(created), event, nil
}

func (r *Router) send(client *Client, frame Frame) {
	select {
	case client.Outbound <- frame:
	case <-client.done:
	}
}

// errorFrame maps a failure to the reply format: domain errors keep their
// status and message, anything else becomes the operation's generic
// "unable to" text with a 422-class code.
func errorFrame(env Envelope, err error) Frame {
	frame := Frame{
		Type:    env.Type + ".error",
		ReplyTo: env.ID,
	}

	var domainErr *apperr.DomainError
	if errors.As(err, &domainErr) {
		frame.Code = domainErr.Status
		frame.Message = domainErr.Message
		return frame
	}

	frame.Code = http.StatusUnprocessableEntity
	if msg, ok := fallbackMessages[env.Type]; ok {
		frame.Message = msg
	} else {
		frame.Message = "unable to process message"
	}
	return frame
}
