package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/internal/repository"
)

const maxNameAttempts = 5

type teamNameLister interface {
	NamesInTeam(ctx context.Context, teamID string) ([]string, error)
}

// NameAllocator hands out display names that are unique within a team.
type NameAllocator struct {
	students teamNameLister
}

// NewNameAllocator constructs a NameAllocator.
func NewNameAllocator(students teamNameLister) *NameAllocator {
	return &NameAllocator{students: students}
}

// Allocate returns base if unused in the team, otherwise "base (n)" with the smallest free n >= 2.
func (a *NameAllocator) Allocate(ctx context.Context, base, teamID string) (string, error) {
	taken, err := a.taken(ctx, teamID)
	if err != nil {
		return "", err
	}
	return nextFree(taken, base), nil
}

// Claim allocates a name and hands it to write. When a concurrent writer took the same name the
// unique index rejects the write with repository.ErrDuplicate and allocation runs again.
func (a *NameAllocator) Claim(ctx context.Context, base, teamID string, write func(name string) error) (string, error) {
	names, err := a.ClaimBatch(ctx, []string{base}, teamID, func(names []string) error {
		return write(names[0])
	})
	if err != nil {
		return "", err
	}
	return names[0], nil
}

// ClaimBatch allocates one name per base in order, each unique against the team and the names
// earlier in the batch, and hands the whole set to write. A duplicate rejection reruns the batch.
func (a *NameAllocator) ClaimBatch(ctx context.Context, bases []string, teamID string, write func(names []string) error) ([]string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		taken, err := a.taken(ctx, teamID)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(bases))
		for i, base := range bases {
			names[i] = nextFree(taken, base)
			taken[names[i]] = struct{}{}
		}
		err = write(names)
		if err == nil {
			return names, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("claim %d names in team %s: %w", len(bases), teamID, repository.ErrDuplicate)
}

func (a *NameAllocator) taken(ctx context.Context, teamID string) (map[string]struct{}, error) {
	names, err := a.students.NamesInTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(names))
	for _, name := range names {
		taken[name] = struct{}{}
	}
	return taken, nil
}

func nextFree(taken map[string]struct{}, base string) string {
	base = strings.TrimSpace(base)
	if _, ok := taken[base]; !ok {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

type reservedTeamRepository interface {
	FindByName(ctx context.Context, classID, name string) (*models.Team, error)
	Create(ctx context.Context, team *models.Team) error
}

// ensureTeam returns the named team of a class, creating it on first use. A lost creation race
// is resolved by reading the winner's row.
func ensureTeam(ctx context.Context, teams reservedTeamRepository, classID, name string, now time.Time) (*models.Team, error) {
	team, err := teams.FindByName(ctx, classID, name)
	if err == nil {
		return team, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	created := &models.Team{ID: uuid.NewString(), Name: name, ClassID: classID, CreatedAt: now}
	if err := teams.Create(ctx, created); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return teams.FindByName(ctx, classID, name)
		}
		return nil, err
	}
	return created, nil
}
