package rtm

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"courseware/api/internal/annotation"
	"courseware/api/internal/apperr"
	"courseware/api/internal/store"
)

type fakeAnnotations struct {
	createFn     func(context.Context, store.Annotation) (store.Annotation, error)
	createWithFn func(context.Context, store.Annotation, string) (store.Annotation, error)
	updateFn     func(context.Context, string, string, string) (store.Annotation, error)
	findFn       func(context.Context, string, string, string) ([]store.Annotation, error)
	deleteFn     func(context.Context, string) error
	moveFn       func(context.Context, string, string, string) (int64, error)
	resolveFn    func(context.Context, []string, bool) error
	readFn       func(context.Context, string, string, []string, bool, string) error
	aggregateFn  func(context.Context, string, string, string) (annotation.Aggregate, error)
}

func (f *fakeAnnotations) Create(ctx context.Context, a store.Annotation) (store.Annotation, error) {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	a.ID, a.Version = "ann-1", "v-1"
	return a, nil
}
func (f *fakeAnnotations) CreateWithID(ctx context.Context, a store.Annotation, id string) (store.Annotation, error) {
	if f.createWithFn != nil {
		return f.createWithFn(ctx, a, id)
	}
	a.ID, a.Version = id, "v-1"
	return a, nil
}
func (f *fakeAnnotations) Update(ctx context.Context, id, body, target string) (store.Annotation, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, body, target)
	}
	return store.Annotation{ID: id, BodyJSON: body, TargetJSON: target}, nil
}
func (f *fakeAnnotations) FindByElement(ctx context.Context, root, element, motivation string) ([]store.Annotation, error) {
	if f.findFn != nil {
		return f.findFn(ctx, root, element, motivation)
	}
	return nil, nil
}
func (f *fakeAnnotations) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}
func (f *fakeAnnotations) Move(ctx context.Context, element, root, newRoot string) (int64, error) {
	if f.moveFn != nil {
		return f.moveFn(ctx, element, root, newRoot)
	}
	return 0, nil
}
func (f *fakeAnnotations) ResolveComments(ctx context.Context, ids []string, resolved bool) error {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, ids, resolved)
	}
	return nil
}
func (f *fakeAnnotations) ReadComments(ctx context.Context, root, element string, ids []string, read bool, accountID string) error {
	if f.readFn != nil {
		return f.readFn(ctx, root, element, ids, read, accountID)
	}
	return nil
}
func (f *fakeAnnotations) AggregateComments(ctx context.Context, root, element, accountID string) (annotation.Aggregate, error) {
	if f.aggregateFn != nil {
		return f.aggregateFn(ctx, root, element, accountID)
	}
	return annotation.Aggregate{}, nil
}

type fakeDocuments struct {
	createFn func(context.Context, store.Document) (store.Document, error)
	deleteFn func(context.Context, string) error
}

func (f *fakeDocuments) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	if f.createFn != nil {
		return f.createFn(ctx, doc)
	}
	doc.ID, doc.Version = "doc-1", "v-1"
	return doc, nil
}
func (f *fakeDocuments) Delete(ctx context.Context, documentID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, documentID)
	}
	return nil
}

type fakeItems struct {
	createFn func(context.Context, store.DocumentItem) (store.DocumentItem, error)
	updateFn func(context.Context, store.DocumentItem) (store.DocumentItem, error)
	deleteFn func(context.Context, string, string) error
	linkFn   func(context.Context, string, string) error
}

func (f *fakeItems) Create(ctx context.Context, item store.DocumentItem) (store.DocumentItem, error) {
	if f.createFn != nil {
		return f.createFn(ctx, item)
	}
	item.ID = "item-1"
	return item, nil
}
func (f *fakeItems) Update(ctx context.Context, item store.DocumentItem) (store.DocumentItem, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, item)
	}
	return item, nil
}
func (f *fakeItems) Delete(ctx context.Context, documentID, itemID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, documentID, itemID)
	}
	return nil
}
func (f *fakeItems) Link(ctx context.Context, itemID, coursewareElementID string) error {
	if f.linkFn != nil {
		return f.linkFn(ctx, itemID, coursewareElementID)
	}
	return nil
}

type fakeAssociations struct {
	createFn func(context.Context, store.ItemAssociation) (store.ItemAssociation, error)
	deleteFn func(context.Context, string, string) error
}

func (f *fakeAssociations) Create(ctx context.Context, assoc store.ItemAssociation) (store.ItemAssociation, error) {
	if f.createFn != nil {
		return f.createFn(ctx, assoc)
	}
	assoc.ID = "assoc-1"
	return assoc, nil
}
func (f *fakeAssociations) Delete(ctx context.Context, documentID, associationID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, documentID, associationID)
	}
	return nil
}

type fakePublisher struct {
	publishItemFn  func(context.Context, string) error
	publishAssocFn func(context.Context, string) error
}

func (f *fakePublisher) PublishItem(ctx context.Context, itemID string) error {
	if f.publishItemFn != nil {
		return f.publishItemFn(ctx, itemID)
	}
	return nil
}
func (f *fakePublisher) PublishAssociation(ctx context.Context, associationID string) error {
	if f.publishAssocFn != nil {
		return f.publishAssocFn(ctx, associationID)
	}
	return nil
}

type fakeBus struct {
	published []Event
}

func (b *fakeBus) Publish(_ context.Context, event Event) error {
	b.published = append(b.published, event)
	return nil
}
func (b *fakeBus) StartForwarder(context.Context, func(Event)) error { return nil }
func (b *fakeBus) Close() error                                      { return nil }

func setupRouter(annotations AnnotationService) (*Router, *Hub, *fakeBus) {
	hub := NewHub(zerolog.Nop())
	bus := &fakeBus{}
	router := NewRouter(hub, bus, annotations, &fakeDocuments{}, &fakeItems{}, &fakeAssociations{}, &fakePublisher{}, zerolog.Nop())
	return router, hub, bus
}

func setupCompetencyRouter(documents DocumentService, items ItemService, associations AssociationService, publisher PublishService) (*Router, *Hub, *fakeBus) {
	hub := NewHub(zerolog.Nop())
	bus := &fakeBus{}
	router := NewRouter(hub, bus, &fakeAnnotations{}, documents, items, associations, publisher, zerolog.Nop())
	return router, hub, bus
}

func nextFrame(t *testing.T, client *Client) Frame {
	t.Helper()
	select {
	case frame := <-client.Outbound:
		return frame
	default:
		t.Fatal("expected a reply frame")
		return Frame{}
	}
}

func TestDispatchCreateOk(t *testing.T) {
	router, hub, bus := setupRouter(&fakeAnnotations{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-1", "type": "annotation.create",
		"rootElementId": "root-1", "elementId": "elem-1",
		"motivation": "commenting", "creatorAccountId": "acc-1"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "annotation.create.ok" {
		t.Fatalf("expected annotation.create.ok, got %s", frame.Type)
	}
	if frame.ReplyTo != "req-1" {
		t.Fatalf("reply must carry the request id, got %q", frame.ReplyTo)
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(bus.published))
	}
	event := bus.published[0]
	if event.OriginClientID != client.ID {
		t.Fatal("published event must carry the originating client id")
	}
	if event.Topic != "root-1" || event.Action != "created" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestDispatchValidationError(t *testing.T) {
	router, hub, bus := setupRouter(&fakeAnnotations{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-2", "type": "annotation.create",
		"elementId": "elem-1", "motivation": "commenting", "creatorAccountId": "acc-1"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "annotation.create.error" || frame.ReplyTo != "req-2" {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if frame.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", frame.Code)
	}
	if frame.Message != "missing rootElementId" {
		t.Fatalf("expected missing rootElementId, got %q", frame.Message)
	}
	if len(bus.published) != 0 {
		t.Fatal("no event may be published on failure")
	}
}

func TestDispatchMissingReadFlag(t *testing.T) {
	router, hub, _ := setupRouter(&fakeAnnotations{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-3", "type": "annotation.read",
		"rootElementId": "root-1", "elementId": "elem-1",
		"annotationIds": ["ann-1"], "accountId": "acc-1"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "annotation.read.error" || frame.Message != "missing read" {
		t.Fatalf("expected missing read, got %+v", frame)
	}
}

func TestDispatchDomainErrorPassesThrough(t *testing.T) {
	router, hub, _ := setupRouter(&fakeAnnotations{
		createWithFn: func(_ context.Context, _ store.Annotation, id string) (store.Annotation, error) {
			return store.Annotation{}, apperr.Conflictf("annotation already exists with id %s", id)
		},
	})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-4", "type": "annotation.create", "annotationId": "ann-1",
		"rootElementId": "root-1", "elementId": "elem-1",
		"motivation": "commenting", "creatorAccountId": "acc-1"
	}`))

	frame := nextFrame(t, client)
	if frame.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", frame.Code)
	}
	if frame.Message != "annotation already exists with id ann-1" {
		t.Fatalf("unexpected message %q", frame.Message)
	}
}

func TestDispatchOpaqueErrorFallback(t *testing.T) {
	router, hub, _ := setupRouter(&fakeAnnotations{
		createFn: func(context.Context, store.Annotation) (store.Annotation, error) {
			return store.Annotation{}, errors.New("connection reset by peer")
		},
	})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-5", "type": "annotation.create",
		"rootElementId": "root-1", "elementId": "elem-1",
		"motivation": "commenting", "creatorAccountId": "acc-1"
	}`))

	frame := nextFrame(t, client)
	if frame.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", frame.Code)
	}
	if frame.Message != "unable to create annotation" {
		t.Fatalf("expected fallback text, got %q", frame.Message)
	}
}

func TestDispatchSubscribe(t *testing.T) {
	router, hub, _ := setupRouter(&fakeAnnotations{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{"id": "req-6", "type": "subscribe", "topic": "root-1"}`))

	frame := nextFrame(t, client)
	if frame.Type != "subscribe.ok" {
		t.Fatalf("expected subscribe.ok, got %s", frame.Type)
	}
	if !client.Topics["root-1"] {
		t.Fatal("client must be subscribed to the topic")
	}

	hub.Broadcast(Event{Topic: "root-1", Type: "annotation.created"})
	if got := nextFrame(t, client); got.Event == nil {
		t.Fatalf("subscribed client must receive broadcasts, got %+v", got)
	}
}

func TestDispatchAggregate(t *testing.T) {
	router, hub, _ := setupRouter(&fakeAnnotations{
		aggregateFn: func(context.Context, string, string, string) (annotation.Aggregate, error) {
			return annotation.Aggregate{Read: 2, Unread: 1, Resolved: 1, Unresolved: 2, Total: 3}, nil
		},
	})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-7", "type": "annotation.aggregate",
		"rootElementId": "root-1", "elementId": "elem-1", "accountId": "acc-1"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "annotation.aggregate.ok" {
		t.Fatalf("expected annotation.aggregate.ok, got %s", frame.Type)
	}
	agg, ok := frame.Response.(annotation.Aggregate)
	if !ok {
		t.Fatalf("unexpected response type %T", frame.Response)
	}
	if agg.Read != 2 || agg.Unread != 1 || agg.Total != 3 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	router, hub, _ := setupRouter(&fakeAnnotations{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{"id": "req-8", "type": "teleport"}`))

	frame := nextFrame(t, client)
	if frame.Type != "teleport.error" || frame.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestDispatchDocumentCreate(t *testing.T) {
	router, hub, bus := setupCompetencyRouter(&fakeDocuments{}, &fakeItems{}, &fakeAssociations{}, &fakePublisher{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-20", "type": "document.create",
		"workspaceId": "ws-1", "title": "Algebra", "createdBy": "acc-1"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "document.create.ok" || frame.ReplyTo != "req-20" {
		t.Fatalf("unexpected frame %+v", frame)
	}
	doc, ok := frame.Response.(documentDTO)
	if !ok {
		t.Fatalf("unexpected response type %T", frame.Response)
	}
	if doc.ID != "doc-1" || doc.WorkspaceID != "ws-1" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if len(bus.published) != 1 || bus.published[0].Action != "created" || bus.published[0].Topic != "doc-1" {
		t.Fatalf("unexpected events %+v", bus.published)
	}
}

func TestDispatchDocumentCreateValidation(t *testing.T) {
	router, hub, bus := setupCompetencyRouter(&fakeDocuments{}, &fakeItems{}, &fakeAssociations{}, &fakePublisher{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-21", "type": "document.create", "workspaceId": "ws-1", "createdBy": "acc-1"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "document.create.error" || frame.Message != "missing title" {
		t.Fatalf("expected missing title, got %+v", frame)
	}
	if len(bus.published) != 0 {
		t.Fatal("no event may be published on failure")
	}
}

func TestDispatchItemCreate(t *testing.T) {
	router, hub, bus := setupCompetencyRouter(&fakeDocuments{}, &fakeItems{}, &fakeAssociations{}, &fakePublisher{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-22", "type": "item.create",
		"documentId": "doc-1", "fullStatement": "Solve linear equations"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "item.create.ok" {
		t.Fatalf("expected item.create.ok, got %s", frame.Type)
	}
	item, ok := frame.Response.(itemDTO)
	if !ok {
		t.Fatalf("unexpected response type %T", frame.Response)
	}
	if item.ID != "item-1" || item.DocumentID != "doc-1" {
		t.Fatalf("unexpected item %+v", item)
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(bus.published))
	}
	event := bus.published[0]
	if event.Topic != "doc-1" || event.Action != "created" || event.ElementType != "item" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.OriginClientID != client.ID {
		t.Fatal("published event must carry the originating client id")
	}
}

func TestDispatchItemUpdate(t *testing.T) {
	router, hub, bus := setupCompetencyRouter(&fakeDocuments{}, &fakeItems{}, &fakeAssociations{}, &fakePublisher{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-23", "type": "item.update",
		"itemId": "item-1", "documentId": "doc-1", "fullStatement": "Solve quadratic equations"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "item.update.ok" {
		t.Fatalf("expected item.update.ok, got %s", frame.Type)
	}
	if len(bus.published) != 1 || bus.published[0].Action != "updated" || bus.published[0].Topic != "doc-1" {
		t.Fatalf("unexpected events %+v", bus.published)
	}
}

func TestDispatchItemLink(t *testing.T) {
	var gotItem, gotElement string
	router, hub, bus := setupCompetencyRouter(&fakeDocuments{}, &fakeItems{
		linkFn: func(_ context.Context, itemID, coursewareElementID string) error {
			gotItem, gotElement = itemID, coursewareElementID
			return nil
		},
	}, &fakeAssociations{}, &fakePublisher{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-24", "type": "item.link",
		"itemId": "item-1", "coursewareElementId": "cw-1"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "item.link.ok" {
		t.Fatalf("expected item.link.ok, got %s", frame.Type)
	}
	if gotItem != "item-1" || gotElement != "cw-1" {
		t.Fatalf("link called with (%q, %q)", gotItem, gotElement)
	}
	if len(bus.published) != 1 || bus.published[0].Action != "linked" {
		t.Fatalf("unexpected events %+v", bus.published)
	}
}

func TestDispatchItemPublish(t *testing.T) {
	var published string
	router, hub, bus := setupCompetencyRouter(&fakeDocuments{}, &fakeItems{}, &fakeAssociations{}, &fakePublisher{
		publishItemFn: func(_ context.Context, itemID string) error {
			published = itemID
			return nil
		},
	})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{"id": "req-25", "type": "item.publish", "itemId": "item-1"}`))

	frame := nextFrame(t, client)
	if frame.Type != "item.publish.ok" {
		t.Fatalf("expected item.publish.ok, got %s", frame.Type)
	}
	if published != "item-1" {
		t.Fatalf("publish called with %q", published)
	}
	if len(bus.published) != 1 || bus.published[0].Action != "published" {
		t.Fatalf("unexpected events %+v", bus.published)
	}
}

func TestDispatchItemPublishUnknownID(t *testing.T) {
	router, hub, bus := setupCompetencyRouter(&fakeDocuments{}, &fakeItems{}, &fakeAssociations{}, &fakePublisher{
		publishItemFn: func(_ context.Context, itemID string) error {
			return apperr.NotFoundf("no item with id %s", itemID)
		},
	})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{"id": "req-26", "type": "item.publish", "itemId": "ghost"}`))

	frame := nextFrame(t, client)
	if frame.Type != "item.publish.error" || frame.Code != http.StatusNotFound {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if frame.Message != "no item with id ghost" {
		t.Fatalf("unexpected message %q", frame.Message)
	}
	if len(bus.published) != 0 {
		t.Fatal("no event may be published on failure")
	}
}

func TestDispatchItemDeleteGuardPassesThrough(t *testing.T) {
	router, hub, bus := setupCompetencyRouter(&fakeDocuments{}, &fakeItems{
		deleteFn: func(_ context.Context, _, itemID string) error {
			return apperr.Invalidf("item %s is published and cannot be deleted", itemID)
		},
	}, &fakeAssociations{}, &fakePublisher{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-27", "type": "item.delete", "documentId": "doc-1", "itemId": "item-1"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "item.delete.error" || frame.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if frame.Message != "item item-1 is published and cannot be deleted" {
		t.Fatalf("unexpected message %q", frame.Message)
	}
	if len(bus.published) != 0 {
		t.Fatal("no event may be published on failure")
	}
}

func TestDispatchAssociationCreate(t *testing.T) {
	router, hub, bus := setupCompetencyRouter(&fakeDocuments{}, &fakeItems{}, &fakeAssociations{}, &fakePublisher{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{
		"id": "req-28", "type": "association.create",
		"documentId": "doc-1", "originItemId": "item-1",
		"destinationItemId": "item-2", "associationType": "precedes"
	}`))

	frame := nextFrame(t, client)
	if frame.Type != "association.create.ok" {
		t.Fatalf("expected association.create.ok, got %s", frame.Type)
	}
	assoc, ok := frame.Response.(associationDTO)
	if !ok {
		t.Fatalf("unexpected response type %T", frame.Response)
	}
	if assoc.ID != "assoc-1" || assoc.AssociationType != "precedes" {
		t.Fatalf("unexpected association %+v", assoc)
	}
	if len(bus.published) != 1 || bus.published[0].Topic != "doc-1" {
		t.Fatalf("unexpected events %+v", bus.published)
	}
}

func TestDispatchAssociationPublish(t *testing.T) {
	var published string
	router, hub, _ := setupCompetencyRouter(&fakeDocuments{}, &fakeItems{}, &fakeAssociations{}, &fakePublisher{
		publishAssocFn: func(_ context.Context, associationID string) error {
			published = associationID
			return nil
		},
	})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{"id": "req-29", "type": "association.publish", "associationId": "assoc-1"}`))

	frame := nextFrame(t, client)
	if frame.Type != "association.publish.ok" {
		t.Fatalf("expected association.publish.ok, got %s", frame.Type)
	}
	if published != "assoc-1" {
		t.Fatalf("publish called with %q", published)
	}
}

func TestDispatchDocumentDelete(t *testing.T) {
	var deleted string
	router, hub, bus := setupCompetencyRouter(&fakeDocuments{
		deleteFn: func(_ context.Context, documentID string) error {
			deleted = documentID
			return nil
		},
	}, &fakeItems{}, &fakeAssociations{}, &fakePublisher{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{"id": "req-30", "type": "document.delete", "documentId": "doc-1"}`))

	frame := nextFrame(t, client)
	if frame.Type != "document.delete.ok" {
		t.Fatalf("expected document.delete.ok, got %s", frame.Type)
	}
	if deleted != "doc-1" {
		t.Fatalf("delete called with %q", deleted)
	}
	if len(bus.published) != 1 || bus.published[0].Action != "deleted" {
		t.Fatalf("unexpected events %+v", bus.published)
	}
}

func TestDispatchMalformedJSON(t *testing.T) {
	router, hub, _ := setupRouter(&fakeAnnotations{})
	client := hub.NewClient("acc-1")

	router.Dispatch(context.Background(), client, []byte(`{nope`))

	frame := nextFrame(t, client)
	if frame.Type != "error" || frame.Message != "malformed message" {
		t.Fatalf("unexpected frame %+v", frame)
	}
}
