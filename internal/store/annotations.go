package store

import (
	"context"
	"database/sql"
	"fmt"
)

const annotationColumns = `id, version, root_element_id, element_id, motivation, creator_account_id, body_json, target_json, resolved, created_at, updated_at`

func (s *PostgresStore) InsertAnnotation(ctx context.Context, a Annotation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO annotations (id, version, root_element_id, element_id, motivation, creator_account_id, body_json, target_json, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.Version, a.RootElementID, a.ElementID, a.Motivation, a.CreatorAccountID, a.BodyJSON, a.TargetJSON, a.Resolved)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, annotationID string) (Annotation, error) {
	var a Annotation
	err := s.db.QueryRowContext(ctx, `
		SELECT `+annotationColumns+` FROM annotations WHERE id = $1
	`, annotationID).Scan(
		&a.ID, &a.Version, &a.RootElementID, &a.ElementID, &a.Motivation,
		&a.CreatorAccountID, &a.BodyJSON, &a.TargetJSON, &a.Resolved, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return Annotation{}, err
	}
	return a, nil
}

func (s *PostgresStore) UpdateAnnotation(ctx context.Context, a Annotation) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE annotations
		SET version=$2, root_element_id=$3, element_id=$4, body_json=$5, target_json=$6, resolved=$7, updated_at=NOW()
		WHERE id=$1
	`, a.ID, a.Version, a.RootElementID, a.ElementID, a.BodyJSON, a.TargetJSON, a.Resolved)
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAnnotation(ctx context.Context, annotationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM annotation_read_receipts WHERE annotation_id=$1`, annotationID); err != nil {
		return fmt.Errorf("delete annotation read receipts: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id=$1`, annotationID); err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAnnotationsByRootElement(ctx context.Context, rootElementID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM annotation_read_receipts WHERE root_element_id=$1`, rootElementID); err != nil {
		return fmt.Errorf("delete read receipts by root element: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE root_element_id=$1`, rootElementID); err != nil {
		return fmt.Errorf("delete annotations by root element: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAnnotationsByElement(ctx context.Context, rootElementID, elementID, motivation string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE root_element_id=$1 AND element_id=$2 AND motivation=$3
		ORDER BY id
	`, rootElementID, elementID, motivation)
	if err != nil {
		return nil, fmt.Errorf("list annotations by element: %w", err)
	}
	defer rows.Close()
	return scanAnnotations(rows)
}

func (s *PostgresStore) ListAnnotationsByCreator(ctx context.Context, rootElementID, creatorAccountID string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE root_element_id=$1 AND creator_account_id=$2
		ORDER BY id
	`, rootElementID, creatorAccountID)
	if err != nil {
		return nil, fmt.Errorf("list annotations by creator: %w", err)
	}
	defer rows.Close()
	return scanAnnotations(rows)
}

// MoveAnnotations re-points every annotation under an element to a new root
// element. Ids and versions are untouched.
func (s *PostgresStore) MoveAnnotations(ctx context.Context, elementID, rootElementID, newRootElementID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE annotations SET root_element_id=$3, updated_at=NOW()
		WHERE element_id=$1 AND root_element_id=$2
	`, elementID, rootElementID, newRootElementID)
	if err != nil {
		return 0, fmt.Errorf("move annotations: %w", err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("move annotations rows: %w", err)
	}
	return moved, nil
}

func (s *PostgresStore) SetAnnotationsResolved(ctx context.Context, annotationIDs []string, resolved bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE annotations SET resolved=$2, updated_at=NOW() WHERE id = ANY($1)
	`, annotationIDs, resolved)
	if err != nil {
		return fmt.Errorf("set annotations resolved: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertReadReceipt(ctx context.Context, receipt AnnotationReadReceipt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO annotation_read_receipts (root_element_id, element_id, annotation_id, account_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (root_element_id, element_id, annotation_id, account_id) DO NOTHING
	`, receipt.RootElementID, receipt.ElementID, receipt.AnnotationID, receipt.AccountID)
	if err != nil {
		return fmt.Errorf("insert read receipt: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteReadReceipt(ctx context.Context, rootElementID, elementID, annotationID, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM annotation_read_receipts
		WHERE root_element_id=$1 AND element_id=$2 AND annotation_id=$3 AND account_id=$4
	`, rootElementID, elementID, annotationID, accountID)
	if err != nil {
		return fmt.Errorf("delete read receipt: %w", err)
	}
	return nil
}

// ListReadAnnotationIDs returns the ids of annotations under the element that
// the account has marked read.
func (s *PostgresStore) ListReadAnnotationIDs(ctx context.Context, rootElementID, elementID, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT annotation_id FROM annotation_read_receipts
		WHERE root_element_id=$1 AND element_id=$2 AND account_id=$3
	`, rootElementID, elementID, accountID)
	if err != nil {
		return nil, fmt.Errorf("list read annotation ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan read annotation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanAnnotations(rows *sql.Rows) ([]Annotation, error) {
	var items []Annotation
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(
			&a.ID, &a.Version, &a.RootElementID, &a.ElementID, &a.Motivation,
			&a.CreatorAccountID, &a.BodyJSON, &a.TargetJSON, &a.Resolved, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
