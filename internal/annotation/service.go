// Package annotation implements CRUD and read/aggregate operations for
// courseware annotations: comments, highlights, and bookmarks attached to
// courseware elements.
package annotation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"courseware/api/internal/apperr"
	"courseware/api/internal/store"
	"courseware/api/internal/util"
)

// Motivation values carried over from the W3C annotation vocabulary.
var allowedMotivations = map[string]struct{}{
	"commenting":   {},
	"replying":     {},
	"highlighting": {},
	"bookmarking":  {},
	"identifying":  {},
	"classifying":  {},
}

type Store interface {
	InsertAnnotation(context.Context, store.Annotation) error
	GetAnnotation(context.Context, string) (store.Annotation, error)
	UpdateAnnotation(context.Context, store.Annotation) error
	DeleteAnnotation(context.Context, string) error
	DeleteAnnotationsByRootElement(context.Context, string) error
	ListAnnotationsByElement(ctx context.Context, rootElementID, elementID, motivation string) ([]store.Annotation, error)
	ListAnnotationsByCreator(ctx context.Context, rootElementID, creatorAccountID string) ([]store.Annotation, error)
	MoveAnnotations(ctx context.Context, elementID, rootElementID, newRootElementID string) (int64, error)
	SetAnnotationsResolved(ctx context.Context, annotationIDs []string, resolved bool) error
	InsertReadReceipt(context.Context, store.AnnotationReadReceipt) error
	DeleteReadReceipt(ctx context.Context, rootElementID, elementID, annotationID, accountID string) error
	ListReadAnnotationIDs(ctx context.Context, rootElementID, elementID, accountID string) ([]string, error)
}

// Aggregate is derived at request time by joining an annotation set against
// the caller's read receipts; it is never persisted.
type Aggregate struct {
	Read       int `json:"read"`
	Unread     int `json:"unread"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Total      int `json:"total"`
}

type Service struct {
	store Store
	log   zerolog.Logger
}

func New(dataStore Store, log zerolog.Logger) *Service {
	return &Service{
		store: dataStore,
		log:   log.With().Str("component", "annotation").Logger(),
	}
}

// Create validates and persists a new annotation. The id and version are
// assigned here when the caller did not supply them.
func (s *Service) Create(ctx context.Context, a store.Annotation) (store.Annotation, error) {
	if err := validateNewAnnotation(a); err != nil {
		return store.Annotation{}, err
	}

	if a.ID == "" {
		a.ID = util.NewTimeID()
	}
	a.Version = util.NewTimeID()
	if a.BodyJSON == "" {
		a.BodyJSON = "{}"
	}
	if a.TargetJSON == "" {
		a.TargetJSON = "{}"
	}

	if err := s.store.InsertAnnotation(ctx, a); err != nil {
		return store.Annotation{}, err
	}
	s.log.Debug().Str("annotationId", a.ID).Str("rootElementId", a.RootElementID).Msg("annotation created")
	return a, nil
}

// CreateWithID persists an annotation under a caller-chosen id. A collision
// with an existing annotation fails before anything is written.
func (s *Service) CreateWithID(ctx context.Context, a store.Annotation, annotationID string) (store.Annotation, error) {
	if strings.TrimSpace(annotationID) == "" {
		return store.Annotation{}, apperr.Invalid("missing annotationId")
	}
	if err := validateNewAnnotation(a); err != nil {
		return store.Annotation{}, err
	}

	_, err := s.store.GetAnnotation(ctx, annotationID)
	if err == nil {
		return store.Annotation{}, apperr.Conflictf("annotation already exists with id %s", annotationID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Annotation{}, err
	}

	a.ID = annotationID
	return s.Create(ctx, a)
}

func validateNewAnnotation(a store.Annotation) error {
	if (a == store.Annotation{}) {
		return apperr.Invalid("missing annotation")
	}
	if strings.TrimSpace(a.RootElementID) == "" {
		return apperr.Invalid("missing rootElementId")
	}
	if strings.TrimSpace(a.CreatorAccountID) == "" {
		return apperr.Invalid("missing creatorAccountId")
	}
	if strings.TrimSpace(a.Motivation) == "" {
		return apperr.Invalid("missing motivation")
	}
	if _, ok := allowedMotivations[a.Motivation]; !ok {
		return apperr.Invalid("invalid motivation")
	}
	return nil
}

// Update replaces the body and target of an existing annotation and assigns a
// fresh version. The id, motivation, scope, and creator are untouched; the
// new version always differs from the old one. Last writer wins.
func (s *Service) Update(ctx context.Context, annotationID, bodyJSON, targetJSON string) (store.Annotation, error) {
	if strings.TrimSpace(annotationID) == "" {
		return store.Annotation{}, apperr.Invalid("missing annotationId")
	}
	if !json.Valid([]byte(bodyJSON)) {
		return store.Annotation{}, apperr.Invalid("invalid body json")
	}
	if !json.Valid([]byte(targetJSON)) {
		return store.Annotation{}, apperr.Invalid("invalid target json")
	}

	existing, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return store.Annotation{}, err
	}

	updated := existing
	updated.BodyJSON = bodyJSON
	updated.TargetJSON = targetJSON
	updated.Version = util.NewTimeID()
	for updated.Version == existing.Version {
		updated.Version = util.NewTimeID()
	}

	if err := s.store.UpdateAnnotation(ctx, updated); err != nil {
		return store.Annotation{}, err
	}
	return updated, nil
}

func (s *Service) FindByElement(ctx context.Context, rootElementID, elementID, motivation string) ([]store.Annotation, error) {
	if strings.TrimSpace(rootElementID) == "" {
		return nil, apperr.Invalid("missing rootElementId")
	}
	if strings.TrimSpace(elementID) == "" {
		return nil, apperr.Invalid("missing elementId")
	}
	if strings.TrimSpace(motivation) == "" {
		return nil, apperr.Invalid("missing motivation")
	}
	return s.store.ListAnnotationsByElement(ctx, rootElementID, elementID, motivation)
}

func (s *Service) FindByCreator(ctx context.Context, rootElementID, creatorAccountID string) ([]store.Annotation, error) {
	if strings.TrimSpace(rootElementID) == "" {
		return nil, apperr.Invalid("missing rootElementId")
	}
	if strings.TrimSpace(creatorAccountID) == "" {
		return nil, apperr.Invalid("missing accountId")
	}
	return s.store.ListAnnotationsByCreator(ctx, rootElementID, creatorAccountID)
}

func (s *Service) Delete(ctx context.Context, annotationID string) error {
	if strings.TrimSpace(annotationID) == "" {
		return apperr.Invalid("missing annotationId")
	}
	return s.store.DeleteAnnotation(ctx, annotationID)
}

// DeleteByRootElement removes every annotation under a root element, used
// when the element itself is deleted.
func (s *Service) DeleteByRootElement(ctx context.Context, rootElementID string) error {
	if strings.TrimSpace(rootElementID) == "" {
		return apperr.Invalid("missing rootElementId")
	}
	return s.store.DeleteAnnotationsByRootElement(ctx, rootElementID)
}

// Move re-points every annotation under an element to a new root element,
// leaving ids and versions untouched.
func (s *Service) Move(ctx context.Context, elementID, rootElementID, newRootElementID string) (int64, error) {
	if strings.TrimSpace(elementID) == "" {
		return 0, apperr.Invalid("missing elementId")
	}
	if strings.TrimSpace(rootElementID) == "" {
		return 0, apperr.Invalid("missing rootElementId")
	}
	if strings.TrimSpace(newRootElementID) == "" {
		return 0, apperr.Invalid("missing newRootElementId")
	}
	return s.store.MoveAnnotations(ctx, elementID, rootElementID, newRootElementID)
}

// ResolveComments bulk-toggles the resolved flag for a set of annotations.
func (s *Service) ResolveComments(ctx context.Context, annotationIDs []string, resolved bool) error {
	if len(annotationIDs) == 0 {
		return apperr.Invalid("missing annotationIds")
	}
	return s.store.SetAnnotationsResolved(ctx, annotationIDs, resolved)
}

// ReadComments marks a set of annotations read (insert receipt) or unread
// (remove receipt) for one account. All arguments are mandatory and each is
// validated with its own message.
func (s *Service) ReadComments(ctx context.Context, rootElementID, elementID string, annotationIDs []string, read bool, accountID string) error {
	if strings.TrimSpace(rootElementID) == "" {
		return apperr.Invalid("missing rootElementId")
	}
	if strings.TrimSpace(elementID) == "" {
		return apperr.Invalid("missing elementId")
	}
	if len(annotationIDs) == 0 {
		return apperr.Invalid("missing annotationIds")
	}
	if strings.TrimSpace(accountID) == "" {
		return apperr.Invalid("missing accountId")
	}

	for _, annotationID := range annotationIDs {
		if read {
			err := s.store.InsertReadReceipt(ctx, store.AnnotationReadReceipt{
				RootElementID: rootElementID,
				ElementID:     elementID,
				AnnotationID:  annotationID,
				AccountID:     accountID,
			})
			if err != nil {
				return err
			}
			continue
		}
		if err := s.store.DeleteReadReceipt(ctx, rootElementID, elementID, annotationID, accountID); err != nil {
			return err
		}
	}
	return nil
}

// AggregateComments folds the commenting annotations under an element
// together with the account's read receipts. Every annotation lands in
// exactly one of read/unread and exactly one of resolved/unresolved.
func (s *Service) AggregateComments(ctx context.Context, rootElementID, elementID, accountID string) (Aggregate, error) {
	if strings.TrimSpace(rootElementID) == "" {
		return Aggregate{}, apperr.Invalid("missing rootElementId")
	}
	if strings.TrimSpace(elementID) == "" {
		return Aggregate{}, apperr.Invalid("missing elementId")
	}
	if strings.TrimSpace(accountID) == "" {
		return Aggregate{}, apperr.Invalid("missing accountId")
	}

	annotations, err := s.store.ListAnnotationsByElement(ctx, rootElementID, elementID, "commenting")
	if err != nil {
		return Aggregate{}, err
	}
	readIDs, err := s.store.ListReadAnnotationIDs(ctx, rootElementID, elementID, accountID)
	if err != nil {
		return Aggregate{}, err
	}
	readSet := make(map[string]struct{}, len(readIDs))
	for _, id := range readIDs {
		readSet[id] = struct{}{}
	}

	var agg Aggregate
	for _, a := range annotations {
		agg.Total++
		if _, ok := readSet[a.ID]; ok {
			agg.Read++
		} else {
			agg.Unread++
		}
		if a.Resolved {
			agg.Resolved++
		} else {
			agg.Unresolved++
		}
	}
	return agg, nil
}
