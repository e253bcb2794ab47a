package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO competency_documents (id, workspace_id, title, version, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, doc.ID, doc.WorkspaceID, doc.Title, doc.Version, doc.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, title, version, created_by, created_at, updated_at
		FROM competency_documents WHERE id = $1
	`, documentID).Scan(&doc.ID, &doc.WorkspaceID, &doc.Title, &doc.Version, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM item_associations WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document associations: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_items WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document items: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM competency_documents WHERE id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// UpdateDocumentVersion records a fresh time-ordered version after any
// item/association mutation.
func (s *PostgresStore) UpdateDocumentVersion(ctx context.Context, documentID, version string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE competency_documents SET version=$2, updated_at=NOW() WHERE id=$1
	`, documentID, version)
	if err != nil {
		return fmt.Errorf("update document version: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertItem(ctx context.Context, item DocumentItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_items (id, document_id, full_statement, abbreviated_statement, human_coding_scheme)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.DocumentID, item.FullStatement, item.AbbreviatedStatement, item.HumanCodingScheme)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (DocumentItem, error) {
	var item DocumentItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, full_statement, abbreviated_statement, human_coding_scheme, created_at, updated_at
		FROM document_items WHERE id = $1
	`, itemID).Scan(&item.ID, &item.DocumentID, &item.FullStatement, &item.AbbreviatedStatement, &item.HumanCodingScheme, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return DocumentItem{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, item DocumentItem) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE document_items
		SET full_statement=$2, abbreviated_statement=$3, human_coding_scheme=$4, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.FullStatement, item.AbbreviatedStatement, item.HumanCodingScheme)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, itemID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_items WHERE id=$1`, itemID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListItemsByDocument(ctx context.Context, documentID string) ([]DocumentItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, full_statement, abbreviated_statement, human_coding_scheme, created_at, updated_at
		FROM document_items WHERE document_id=$1 ORDER BY id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []DocumentItem
	for rows.Next() {
		var item DocumentItem
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.FullStatement, &item.AbbreviatedStatement, &item.HumanCodingScheme, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertAssociation(ctx context.Context, assoc ItemAssociation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_associations (id, document_id, origin_item_id, destination_item_id, association_type)
		VALUES ($1, $2, $3, $4, $5)
	`, assoc.ID, assoc.DocumentID, assoc.OriginItemID, assoc.DestinationItemID, assoc.AssociationType)
	if err != nil {
		return fmt.Errorf("insert association: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAssociation(ctx context.Context, associationID string) (ItemAssociation, error) {
	var assoc ItemAssociation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, origin_item_id, destination_item_id, association_type, created_at
		FROM item_associations WHERE id = $1
	`, associationID).Scan(&assoc.ID, &assoc.DocumentID, &assoc.OriginItemID, &assoc.DestinationItemID, &assoc.AssociationType, &assoc.CreatedAt)
	if err != nil {
		return ItemAssociation{}, err
	}
	return assoc, nil
}

func (s *PostgresStore) DeleteAssociation(ctx context.Context, associationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM item_associations WHERE id=$1`, associationID); err != nil {
		return fmt.Errorf("delete association: %w", err)
	}
	return nil
}

// DeleteAssociationsByItem removes every association where the item appears as
// origin or destination.
func (s *PostgresStore) DeleteAssociationsByItem(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM item_associations WHERE origin_item_id=$1 OR destination_item_id=$1
	`, itemID)
	if err != nil {
		return fmt.Errorf("delete associations by item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAssociationsByItem(ctx context.Context, itemID string) ([]ItemAssociation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, origin_item_id, destination_item_id, association_type, created_at
		FROM item_associations
		WHERE origin_item_id=$1 OR destination_item_id=$1
		ORDER BY id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list associations by item: %w", err)
	}
	defer rows.Close()

	var assocs []ItemAssociation
	for rows.Next() {
		var assoc ItemAssociation
		if err := rows.Scan(&assoc.ID, &assoc.DocumentID, &assoc.OriginItemID, &assoc.DestinationItemID, &assoc.AssociationType, &assoc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		assocs = append(assocs, assoc)
	}
	return assocs, rows.Err()
}

// The published mirror is the read-only learner-facing copy. Rows here lock
// the source item/association against deletion.

func (s *PostgresStore) PublishItem(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO published_items (item_id) VALUES ($1)
		ON CONFLICT (item_id) DO NOTHING
	`, itemID)
	if err != nil {
		return fmt.Errorf("publish item: %w", err)
	}
	return nil
}

func (s *PostgresStore) PublishAssociation(ctx context.Context, associationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO published_associations (association_id) VALUES ($1)
		ON CONFLICT (association_id) DO NOTHING
	`, associationID)
	if err != nil {
		return fmt.Errorf("publish association: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsItemPublished(ctx context.Context, itemID string) (bool, error) {
	var published bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM published_items WHERE item_id=$1)`, itemID).Scan(&published)
	if err != nil {
		return false, fmt.Errorf("check item published: %w", err)
	}
	return published, nil
}

func (s *PostgresStore) IsAssociationPublished(ctx context.Context, associationID string) (bool, error) {
	var published bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM published_associations WHERE association_id=$1)`, associationID).Scan(&published)
	if err != nil {
		return false, fmt.Errorf("check association published: %w", err)
	}
	return published, nil
}

func (s *PostgresStore) LinkItem(ctx context.Context, itemID, coursewareElementID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_courseware_links (item_id, courseware_element_id)
		VALUES ($1, $2)
		ON CONFLICT (item_id, courseware_element_id) DO NOTHING
	`, itemID, coursewareElementID)
	if err != nil {
		return fmt.Errorf("link item: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsItemLinked(ctx context.Context, itemID string) (bool, error) {
	var linked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM item_courseware_links WHERE item_id=$1)`, itemID).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("check item linked: %w", err)
	}
	return linked, nil
}
