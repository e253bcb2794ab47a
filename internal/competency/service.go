// Package competency implements the competency-document domain: documents,
// their items (graph nodes), typed item associations (edges), and the
// published learner mirror that locks rows against deletion.
package competency

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"courseware/api/internal/apperr"
	"courseware/api/internal/store"
	"courseware/api/internal/util"
)

type Store interface {
	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	DeleteDocument(context.Context, string) error
	UpdateDocumentVersion(ctx context.Context, documentID, version string) error

	InsertItem(context.Context, store.DocumentItem) error
	GetItem(context.Context, string) (store.DocumentItem, error)
	UpdateItem(context.Context, store.DocumentItem) error
	DeleteItem(context.Context, string) error
	ListItemsByDocument(context.Context, string) ([]store.DocumentItem, error)

	InsertAssociation(context.Context, store.ItemAssociation) error
	GetAssociation(context.Context, string) (store.ItemAssociation, error)
	DeleteAssociation(context.Context, string) error
	DeleteAssociationsByItem(context.Context, string) error
	ListAssociationsByItem(context.Context, string) ([]store.ItemAssociation, error)

	PublishItem(context.Context, string) error
	PublishAssociation(context.Context, string) error
	IsItemPublished(context.Context, string) (bool, error)
	IsAssociationPublished(context.Context, string) (bool, error)
	LinkItem(ctx context.Context, itemID, coursewareElementID string) error
	IsItemLinked(context.Context, string) (bool, error)
}

// DocumentService owns document lifecycle and version bumps. Every item or
// association mutation funnels through BumpVersion so readers can detect
// stale copies.
type DocumentService struct {
	store Store
	log   zerolog.Logger
}

func NewDocumentService(dataStore Store, log zerolog.Logger) *DocumentService {
	return &DocumentService{
		store: dataStore,
		log:   log.With().Str("component", "competency.document").Logger(),
	}
}

func (s *DocumentService) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	if strings.TrimSpace(doc.WorkspaceID) == "" {
		return store.Document{}, apperr.Invalid("missing workspaceId")
	}
	if strings.TrimSpace(doc.Title) == "" {
		return store.Document{}, apperr.Invalid("missing title")
	}
	if strings.TrimSpace(doc.CreatedBy) == "" {
		return store.Document{}, apperr.Invalid("missing createdBy")
	}

	if doc.ID == "" {
		doc.ID = util.NewTimeID()
	}
	doc.Version = util.NewTimeID()

	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, err
	}
	s.log.Debug().Str("documentId", doc.ID).Msg("document created")
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, documentID string) (store.Document, error) {
	if strings.TrimSpace(documentID) == "" {
		return store.Document{}, apperr.Invalid("missing documentId")
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, apperr.NotFoundf("no document with id %s", documentID)
	}
	return doc, err
}

func (s *DocumentService) Delete(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return apperr.Invalid("missing documentId")
	}
	return s.store.DeleteDocument(ctx, documentID)
}

// BumpVersion assigns a fresh time-ordered version to the document. The new
// version always differs from the one currently stored.
func (s *DocumentService) BumpVersion(ctx context.Context, documentID string) (string, error) {
	if strings.TrimSpace(documentID) == "" {
		return "", apperr.Invalid("missing documentId")
	}
	version := util.NewTimeID()
	if err := s.store.UpdateDocumentVersion(ctx, documentID, version); err != nil {
		return "", err
	}
	return version, nil
}

// ItemService manages competency items. Deletes are guarded: a published item
// or one linked into courseware must never be removed, and the guards run
// before any write is issued.
type ItemService struct {
	store     Store
	documents *DocumentService
	log       zerolog.Logger
}

func NewItemService(dataStore Store, documents *DocumentService, log zerolog.Logger) *ItemService {
	return &ItemService{
		store:     dataStore,
		documents: documents,
		log:       log.With().Str("component", "competency.item").Logger(),
	}
}

func (s *ItemService) Create(ctx context.Context, item store.DocumentItem) (store.DocumentItem, error) {
	if strings.TrimSpace(item.DocumentID) == "" {
		return store.DocumentItem{}, apperr.Invalid("missing documentId")
	}
	if strings.TrimSpace(item.FullStatement) == "" {
		return store.DocumentItem{}, apperr.Invalid("missing fullStatement")
	}

	if item.ID == "" {
		item.ID = util.NewTimeID()
	}
	if err := s.store.InsertItem(ctx, item); err != nil {
		return store.DocumentItem{}, err
	}
	if _, err := s.documents.BumpVersion(ctx, item.DocumentID); err != nil {
		return store.DocumentItem{}, err
	}
	return item, nil
}

func (s *ItemService) Get(ctx context.Context, itemID string) (store.DocumentItem, error) {
	if strings.TrimSpace(itemID) == "" {
		return store.DocumentItem{}, apperr.Invalid("missing itemId")
	}
	item, err := s.store.GetItem(ctx, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DocumentItem{}, apperr.NotFoundf("no item with id %s", itemID)
	}
	return item, err
}

func (s *ItemService) Update(ctx context.Context, item store.DocumentItem) (store.DocumentItem, error) {
	if strings.TrimSpace(item.ID) == "" {
		return store.DocumentItem{}, apperr.Invalid("missing itemId")
	}
	if strings.TrimSpace(item.DocumentID) == "" {
		return store.DocumentItem{}, apperr.Invalid("missing documentId")
	}
	if strings.TrimSpace(item.FullStatement) == "" {
		return store.DocumentItem{}, apperr.Invalid("missing fullStatement")
	}

	if err := s.store.UpdateItem(ctx, item); err != nil {
		return store.DocumentItem{}, err
	}
	if _, err := s.documents.BumpVersion(ctx, item.DocumentID); err != nil {
		return store.DocumentItem{}, err
	}
	return item, nil
}

// Delete removes an item, its associations, and bumps the document version.
// Guard order matters: published first, then courseware link. Either guard
// firing means nothing is written.
func (s *ItemService) Delete(ctx context.Context, documentID, itemID string) error {
	if strings.TrimSpace(documentID) == "" {
		return apperr.Invalid("missing documentId")
	}
	if strings.TrimSpace(itemID) == "" {
		return apperr.Invalid("missing itemId")
	}

	published, err := s.store.IsItemPublished(ctx, itemID)
	if err != nil {
		return err
	}
	if published {
		return apperr.Invalidf("item %s is published and cannot be deleted", itemID)
	}

	linked, err := s.store.IsItemLinked(ctx, itemID)
	if err != nil {
		return err
	}
	if linked {
		return apperr.Invalidf("item %s is linked to courseware and cannot be deleted", itemID)
	}

	if err := s.store.DeleteItem(ctx, itemID); err != nil {
		return err
	}
	if err := s.store.DeleteAssociationsByItem(ctx, itemID); err != nil {
		return err
	}
	if _, err := s.documents.BumpVersion(ctx, documentID); err != nil {
		return err
	}
	s.log.Debug().Str("itemId", itemID).Str("documentId", documentID).Msg("item deleted")
	return nil
}

func (s *ItemService) ListByDocument(ctx context.Context, documentID string) ([]store.DocumentItem, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, apperr.Invalid("missing documentId")
	}
	return s.store.ListItemsByDocument(ctx, documentID)
}

// Link attaches an item to a courseware element. Linked items resist deletion
// until every link is removed.
func (s *ItemService) Link(ctx context.Context, itemID, coursewareElementID string) error {
	if strings.TrimSpace(itemID) == "" {
		return apperr.Invalid("missing itemId")
	}
	if strings.TrimSpace(coursewareElementID) == "" {
		return apperr.Invalid("missing coursewareElementId")
	}
	return s.store.LinkItem(ctx, itemID, coursewareElementID)
}

// AssociationService manages the typed edges between items.
type AssociationService struct {
	store     Store
	documents *DocumentService
	log       zerolog.Logger
}

func NewAssociationService(dataStore Store, documents *DocumentService, log zerolog.Logger) *AssociationService {
	return &AssociationService{
		store:     dataStore,
		documents: documents,
		log:       log.With().Str("component", "competency.association").Logger(),
	}
}

func (s *AssociationService) Create(ctx context.Context, assoc store.ItemAssociation) (store.ItemAssociation, error) {
	if strings.TrimSpace(assoc.DocumentID) == "" {
		return store.ItemAssociation{}, apperr.Invalid("missing documentId")
	}
	if strings.TrimSpace(assoc.OriginItemID) == "" {
		return store.ItemAssociation{}, apperr.Invalid("missing originItemId")
	}
	if strings.TrimSpace(assoc.DestinationItemID) == "" {
		return store.ItemAssociation{}, apperr.Invalid("missing destinationItemId")
	}
	if strings.TrimSpace(assoc.AssociationType) == "" {
		return store.ItemAssociation{}, apperr.Invalid("missing associationType")
	}

	if assoc.ID == "" {
		assoc.ID = util.NewTimeID()
	}
	if err := s.store.InsertAssociation(ctx, assoc); err != nil {
		return store.ItemAssociation{}, err
	}
	if _, err := s.documents.BumpVersion(ctx, assoc.DocumentID); err != nil {
		return store.ItemAssociation{}, err
	}
	return assoc, nil
}

func (s *AssociationService) Find(ctx context.Context, associationID string) (store.ItemAssociation, error) {
	if strings.TrimSpace(associationID) == "" {
		return store.ItemAssociation{}, apperr.Invalid("missing associationId")
	}
	assoc, err := s.store.GetAssociation(ctx, associationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ItemAssociation{}, apperr.NotFoundf("no association with id %s", associationID)
	}
	return assoc, err
}

func (s *AssociationService) ListByItem(ctx context.Context, itemID string) ([]store.ItemAssociation, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, apperr.Invalid("missing itemId")
	}
	return s.store.ListAssociationsByItem(ctx, itemID)
}

// Delete removes an association unless it has been published. The guard runs
// before the delete reaches the store.
func (s *AssociationService) Delete(ctx context.Context, documentID, associationID string) error {
	if strings.TrimSpace(documentID) == "" {
		return apperr.Invalid("missing documentId")
	}
	if strings.TrimSpace(associationID) == "" {
		return apperr.Invalid("missing associationId")
	}

	published, err := s.store.IsAssociationPublished(ctx, associationID)
	if err != nil {
		return err
	}
	if published {
		return apperr.Invalidf("association %s is published and cannot be deleted", associationID)
	}

	if err := s.store.DeleteAssociation(ctx, associationID); err != nil {
		return err
	}
	if _, err := s.documents.BumpVersion(ctx, documentID); err != nil {
		return err
	}
	return nil
}

// PublishService copies items and associations into the read-only learner
// mirror. A published row locks its source against deletion.
type PublishService struct {
	store Store
	log   zerolog.Logger
}

func NewPublishService(dataStore Store, log zerolog.Logger) *PublishService {
	return &PublishService{
		store: dataStore,
		log:   log.With().Str("component", "competency.publish").Logger(),
	}
}

func (s *PublishService) PublishItem(ctx context.Context, itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		return apperr.Invalid("missing itemId")
	}
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFoundf("no item with id %s", itemID)
		}
		return err
	}
	if err := s.store.PublishItem(ctx, itemID); err != nil {
		return err
	}
	s.log.Info().Str("itemId", itemID).Msg("item published")
	return nil
}

func (s *PublishService) PublishAssociation(ctx context.Context, associationID string) error {
	if strings.TrimSpace(associationID) == "" {
		return apperr.Invalid("missing associationId")
	}
	if _, err := s.store.GetAssociation(ctx, associationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFoundf("no association with id %s", associationID)
		}
		return err
	}
	if err := s.store.PublishAssociation(ctx, associationID); err != nil {
		return err
	}
	s.log.Info().Str("associationId", associationID).Msg("association published")
	return nil
}
