// Package authz turns a caller identity into the explicit set of things the
// caller may do. Every exam and marks operation resolves capabilities once,
// up front, and consults only the result.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
)

var ErrUnauthorized = errors.New("unauthorized")

type Tier string

const (
	TierAdmin          Tier = "admin"
	TierClassTeacher   Tier = "class_teacher"
	TierSubjectTeacher Tier = "subject_teacher"
)

// Caller is who is asking, as known to the transport layer.
type Caller struct {
	UserID uuid.UUID
	Name   string
	Role   string
}

// Identity is the authoritative record for a caller.
type Identity struct {
	UserID   uuid.UUID
	Name     string
	Role     string
	SchoolID *uuid.UUID
}

// TenantResolver is the authorization collaborator: it resolves a caller to
// their tenant. A missing or inactive record must yield ErrUnauthorized.
type TenantResolver interface {
	ResolveIdentity(ctx context.Context, userID uuid.UUID) (Identity, error)
}

type Capabilities struct {
	UserID   uuid.UUID
	Name     string
	Role     string
	Tier     Tier
	TenantID *uuid.UUID
	// AnyTenant is set for platform operators without a school of their own.
	AnyTenant bool

	ManageExams          bool
	EditMarks            bool
	EditLockedMarks      bool
	OverrideLock         bool
	DeleteMarks          bool
	VerifyAsClassTeacher bool
	VerifyAsAdmin        bool
	ViewAudit            bool
}

// TierForRole normalises the platform's role names.
func TierForRole(role string) (Tier, bool) {
	switch role {
	case "system_admin", "school_admin", "admin":
		return TierAdmin, true
	case "class_teacher":
		return TierClassTeacher, true
	case "teacher", "subject_teacher":
		return TierSubjectTeacher, true
	}
	return "", false
}

// EntryRole is the provenance role recorded on ledger rows.
func (c Capabilities) EntryRole() models.EntryRole {
	switch c.Tier {
	case TierAdmin:
		return models.RoleAdmin
	case TierClassTeacher:
		return models.RoleClassTeacher
	default:
		return models.RoleSubjectTeacher
	}
}

// CanAccess reports whether the caller may act on data owned by tenant.
func (c Capabilities) CanAccess(tenant uuid.UUID) bool {
	if c.AnyTenant {
		return true
	}
	return c.TenantID != nil && *c.TenantID == tenant
}

// ForIdentity builds the permission set for an already resolved identity.
func ForIdentity(id Identity) (Capabilities, error) {
	tier, ok := TierForRole(id.Role)
	if !ok {
		return Capabilities{}, fmt.Errorf("role %q: %w", id.Role, ErrUnauthorized)
	}

	caps := Capabilities{
		UserID:   id.UserID,
		Name:     id.Name,
		Role:     id.Role,
		Tier:     tier,
		TenantID: id.SchoolID,
	}

	if id.Role == "system_admin" {
		caps.AnyTenant = true
	} else if id.SchoolID == nil {
		return Capabilities{}, fmt.Errorf("user %s has no school: %w", id.UserID, ErrUnauthorized)
	}

	switch tier {
	case TierAdmin:
		caps.ManageExams = true
		caps.EditMarks = true
		caps.EditLockedMarks = true
		caps.OverrideLock = true
		caps.DeleteMarks = true
		caps.VerifyAsAdmin = true
		caps.ViewAudit = true
	case TierClassTeacher:
		caps.EditMarks = true
		caps.DeleteMarks = true
		caps.VerifyAsClassTeacher = true
	case TierSubjectTeacher:
		caps.EditMarks = true
		caps.DeleteMarks = true
	}
	return caps, nil
}

// Resolve asks the collaborator for the caller's record and derives their
// capabilities. Any failure is reported as ErrUnauthorized.
func Resolve(ctx context.Context, resolver TenantResolver, caller Caller) (Capabilities, error) {
	if caller.UserID == uuid.Nil {
		return Capabilities{}, ErrUnauthorized
	}
	id, err := resolver.ResolveIdentity(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return Capabilities{}, err
		}
		return Capabilities{}, fmt.Errorf("resolve %s: %v: %w", caller.UserID, err, ErrUnauthorized)
	}
	if id.Name == "" {
		id.Name = caller.Name
	}
	return ForIdentity(id)
}

// DirectoryResolver resolves callers against the platform's user records.
type DirectoryResolver struct {
	dir repository.Directory
}

func NewDirectoryResolver(dir repository.Directory) *DirectoryResolver {
	return &DirectoryResolver{dir: dir}
}

func (r *DirectoryResolver) ResolveIdentity(ctx context.Context, userID uuid.UUID) (Identity, error) {
	user, err := r.dir.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Identity{}, fmt.Errorf("user %s not found: %w", userID, ErrUnauthorized)
		}
		return Identity{}, err
	}
	if !user.IsActive {
		return Identity{}, fmt.Errorf("user %s inactive: %w", userID, ErrUnauthorized)
	}
	return Identity{
		UserID:   user.ID,
		Name:     user.FullName,
		Role:     user.Role,
		SchoolID: user.SchoolID,
	}, nil
}
