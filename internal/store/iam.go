package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) UpsertPermission(ctx context.Context, p Permission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (subject_type, subject_id, resource_type, resource_id, level, granted_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_type, subject_id, resource_type, resource_id)
		DO UPDATE SET level=EXCLUDED.level, granted_by=EXCLUDED.granted_by, granted_at=NOW()
	`, p.SubjectType, p.SubjectID, p.ResourceType, p.ResourceID, p.Level, p.GrantedBy)
	if err != nil {
		return fmt.Errorf("upsert permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePermission(ctx context.Context, subjectType, subjectID, resourceType, resourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM permissions
		WHERE subject_type=$1 AND subject_id=$2 AND resource_type=$3 AND resource_id=$4
	`, subjectType, subjectID, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	return nil
}

// GetPermissionLevel returns sql.ErrNoRows when the subject holds no grant
// over the resource.
func (s *PostgresStore) GetPermissionLevel(ctx context.Context, subjectType, subjectID, resourceType, resourceID string) (string, error) {
	var level string
	err := s.db.QueryRowContext(ctx, `
		SELECT level FROM permissions
		WHERE subject_type=$1 AND subject_id=$2 AND resource_type=$3 AND resource_id=$4
	`, subjectType, subjectID, resourceType, resourceID).Scan(&level)
	if err != nil {
		return "", err
	}
	return level, nil
}

func (s *PostgresStore) UpsertCollaborator(ctx context.Context, c Collaborator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collaborators (resource_type, resource_id, subject_type, subject_id, level)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (resource_type, resource_id, subject_type, subject_id)
		DO UPDATE SET level=EXCLUDED.level, updated_at=NOW()
	`, c.ResourceType, c.ResourceID, c.SubjectType, c.SubjectID, c.Level)
	if err != nil {
		return fmt.Errorf("upsert collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCollaborator(ctx context.Context, resourceType, resourceID, subjectType, subjectID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM collaborators
		WHERE resource_type=$1 AND resource_id=$2 AND subject_type=$3 AND subject_id=$4
	`, resourceType, resourceID, subjectType, subjectID)
	if err != nil {
		return fmt.Errorf("delete collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, resourceType, resourceID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_type, resource_id, subject_type, subject_id, level, updated_at
		FROM collaborators
		WHERE resource_type=$1 AND resource_id=$2
		ORDER BY subject_type, subject_id
	`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	var items []Collaborator
	for rows.Next() {
		var c Collaborator
		if err := rows.Scan(&c.ResourceType, &c.ResourceID, &c.SubjectType, &c.SubjectID, &c.Level, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CreateTeam(ctx context.Context, team Team) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO teams (id, name) VALUES ($1, $2)`, team.ID, team.Name)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddTeamMember(ctx context.Context, teamID, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (team_id, account_id)
		VALUES ($1, $2)
		ON CONFLICT (team_id, account_id) DO NOTHING
	`, teamID, accountID)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveTeamMember(ctx context.Context, teamID, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM team_members WHERE team_id=$1 AND account_id=$2
	`, teamID, accountID)
	if err != nil {
		return fmt.Errorf("remove team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTeamIDsByAccount(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT team_id FROM team_members WHERE account_id=$1 ORDER BY team_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list teams by account: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan team id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
