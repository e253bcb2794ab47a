// Package iam grants and resolves permissions for accounts and teams over
// workspace, project, document, and theme resources. Every grant is mirrored
// into a denormalized collaborator view used by resource listings.
package iam

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"courseware/api/internal/apperr"
	"courseware/api/internal/rbac"
	"courseware/api/internal/store"
	"courseware/api/internal/util"
)

const (
	SubjectAccount = "account"
	SubjectTeam    = "team"
)

var allowedResourceTypes = map[string]struct{}{
	"workspace": {},
	"project":   {},
	"document":  {},
	"theme":     {},
}

type Store interface {
	UpsertPermission(context.Context, store.Permission) error
	DeletePermission(ctx context.Context, subjectType, subjectID, resourceType, resourceID string) error
	GetPermissionLevel(ctx context.Context, subjectType, subjectID, resourceType, resourceID string) (string, error)
	UpsertCollaborator(context.Context, store.Collaborator) error
	DeleteCollaborator(ctx context.Context, resourceType, resourceID, subjectType, subjectID string) error
	ListCollaborators(ctx context.Context, resourceType, resourceID string) ([]store.Collaborator, error)
	ListTeamIDsByAccount(ctx context.Context, accountID string) ([]string, error)
	CreateTeam(context.Context, store.Team) error
	AddTeamMember(ctx context.Context, teamID, accountID string) error
	RemoveTeamMember(ctx context.Context, teamID, accountID string) error
}

type Service struct {
	store Store
	log   zerolog.Logger
}

func New(dataStore Store, log zerolog.Logger) *Service {
	return &Service{
		store: dataStore,
		log:   log.With().Str("component", "iam").Logger(),
	}
}

// SavePermission writes the permission row and the collaborator mirror as two
// concurrent writes joined before returning. A failure of one does not roll
// back the other.
func (s *Service) SavePermission(ctx context.Context, p store.Permission) error {
	if err := validateSubject(p.SubjectType, p.SubjectID); err != nil {
		return err
	}
	if err := validateResource(p.ResourceType, p.ResourceID); err != nil {
		return err
	}
	if !rbac.Valid(rbac.PermissionLevel(p.Level)) {
		return apperr.Invalid("invalid permissionLevel")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.store.UpsertPermission(gctx, p)
	})
	g.Go(func() error {
		return s.store.UpsertCollaborator(gctx, store.Collaborator{
			ResourceType: p.ResourceType,
			ResourceID:   p.ResourceID,
			SubjectType:  p.SubjectType,
			SubjectID:    p.SubjectID,
			Level:        p.Level,
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Debug().
		Str("subjectType", p.SubjectType).
		Str("subjectId", p.SubjectID).
		Str("resourceType", p.ResourceType).
		Str("resourceId", p.ResourceID).
		Str("level", p.Level).
		Msg("permission saved")
	return nil
}

// DeletePermission removes the grant and its collaborator mirror, again as a
// joined concurrent pair.
func (s *Service) DeletePermission(ctx context.Context, subjectType, subjectID, resourceType, resourceID string) error {
	if err := validateSubject(subjectType, subjectID); err != nil {
		return err
	}
	if err := validateResource(resourceType, resourceID); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.store.DeletePermission(gctx, subjectType, subjectID, resourceType, resourceID)
	})
	g.Go(func() error {
		return s.store.DeleteCollaborator(gctx, resourceType, resourceID, subjectType, subjectID)
	})
	return g.Wait()
}

// SaveAccountPermission and the three wrappers below keep call sites readable
// where the subject kind is fixed.
func (s *Service) SaveAccountPermission(ctx context.Context, accountID, resourceType, resourceID, level, grantedBy string) error {
	return s.SavePermission(ctx, store.Permission{
		SubjectType:  SubjectAccount,
		SubjectID:    accountID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Level:        level,
		GrantedBy:    grantedBy,
	})
}

func (s *Service) SaveTeamPermission(ctx context.Context, teamID, resourceType, resourceID, level, grantedBy string) error {
	return s.SavePermission(ctx, store.Permission{
		SubjectType:  SubjectTeam,
		SubjectID:    teamID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Level:        level,
		GrantedBy:    grantedBy,
	})
}

func (s *Service) DeleteAccountPermission(ctx context.Context, accountID, resourceType, resourceID string) error {
	return s.DeletePermission(ctx, SubjectAccount, accountID, resourceType, resourceID)
}

func (s *Service) DeleteTeamPermission(ctx context.Context, teamID, resourceType, resourceID string) error {
	return s.DeletePermission(ctx, SubjectTeam, teamID, resourceType, resourceID)
}

// FindHighestPermissionLevel resolves an account's effective level over a
// resource: the maximum of its direct grant and the grants of every team it
// belongs to. No grant anywhere yields ok=false, never a default level.
func (s *Service) FindHighestPermissionLevel(ctx context.Context, accountID, resourceType, resourceID string) (rbac.PermissionLevel, bool, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", false, apperr.Invalid("missing accountId")
	}
	if err := validateResource(resourceType, resourceID); err != nil {
		return "", false, err
	}

	var levels []rbac.PermissionLevel

	direct, err := s.store.GetPermissionLevel(ctx, SubjectAccount, accountID, resourceType, resourceID)
	if err == nil {
		levels = append(levels, rbac.PermissionLevel(direct))
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}

	teamIDs, err := s.store.ListTeamIDsByAccount(ctx, accountID)
	if err != nil {
		return "", false, err
	}
	for _, teamID := range teamIDs {
		level, err := s.store.GetPermissionLevel(ctx, SubjectTeam, teamID, resourceType, resourceID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", false, err
		}
		levels = append(levels, rbac.PermissionLevel(level))
	}

	best, ok := rbac.Highest(levels...)
	return best, ok, nil
}

// CreateTeam registers a team so it can hold grants of its own. Membership
// feeds FindHighestPermissionLevel through ListTeamIDsByAccount.
func (s *Service) CreateTeam(ctx context.Context, name string) (store.Team, error) {
	if strings.TrimSpace(name) == "" {
		return store.Team{}, apperr.Invalid("missing name")
	}
	team := store.Team{ID: util.NewID("team"), Name: name}
	if err := s.store.CreateTeam(ctx, team); err != nil {
		return store.Team{}, err
	}
	s.log.Debug().Str("teamId", team.ID).Msg("team created")
	return team, nil
}

func (s *Service) AddTeamMember(ctx context.Context, teamID, accountID string) error {
	if strings.TrimSpace(teamID) == "" {
		return apperr.Invalid("missing teamId")
	}
	if strings.TrimSpace(accountID) == "" {
		return apperr.Invalid("missing accountId")
	}
	return s.store.AddTeamMember(ctx, teamID, accountID)
}

func (s *Service) RemoveTeamMember(ctx context.Context, teamID, accountID string) error {
	if strings.TrimSpace(teamID) == "" {
		return apperr.Invalid("missing teamId")
	}
	if strings.TrimSpace(accountID) == "" {
		return apperr.Invalid("missing accountId")
	}
	return s.store.RemoveTeamMember(ctx, teamID, accountID)
}

func (s *Service) ListCollaborators(ctx context.Context, resourceType, resourceID string) ([]store.Collaborator, error) {
	if err := validateResource(resourceType, resourceID); err != nil {
		return nil, err
	}
	return s.store.ListCollaborators(ctx, resourceType, resourceID)
}

func validateSubject(subjectType, subjectID string) error {
	if subjectType != SubjectAccount && subjectType != SubjectTeam {
		return apperr.Invalid("invalid subjectType")
	}
	if strings.TrimSpace(subjectID) == "" {
		return apperr.Invalid("missing subjectId")
	}
	return nil
}

func validateResource(resourceType, resourceID string) error {
	if _, ok := allowedResourceTypes[resourceType]; !ok {
		return apperr.Invalid("invalid resourceType")
	}
	if strings.TrimSpace(resourceID) == "" {
		return apperr.Invalid("missing resourceId")
	}
	return nil
}
