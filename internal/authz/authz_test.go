package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierForRole(t *testing.T) {
	tests := []struct {
		role string
		tier Tier
		ok   bool
	}{
		{"system_admin", TierAdmin, true},
		{"school_admin", TierAdmin, true},
		{"admin", TierAdmin, true},
		{"class_teacher", TierClassTeacher, true},
		{"teacher", TierSubjectTeacher, true},
		{"subject_teacher", TierSubjectTeacher, true},
		{"parent", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			tier, ok := TierForRole(tt.role)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.tier, tier)
		})
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	resolver := NewDirectoryResolver(store.Directory())
	school := uuid.New()

	admin := store.AddUser(models.User{SchoolID: &school, Role: "school_admin", FullName: "Admin", IsActive: true})
	teacher := store.AddUser(models.User{SchoolID: &school, Role: "teacher", FullName: "Teacher", IsActive: true})
	inactive := store.AddUser(models.User{SchoolID: &school, Role: "teacher", IsActive: false})
	sysAdmin := store.AddUser(models.User{Role: "system_admin", FullName: "Root", IsActive: true})
	orphan := store.AddUser(models.User{Role: "teacher", IsActive: true})

	t.Run("admin gets lock override", func(t *testing.T) {
		caps, err := Resolve(ctx, resolver, Caller{UserID: admin.ID})
		require.NoError(t, err)
		assert.Equal(t, TierAdmin, caps.Tier)
		assert.True(t, caps.OverrideLock)
		assert.True(t, caps.CanAccess(school))
		assert.False(t, caps.CanAccess(uuid.New()))
		assert.Equal(t, models.RoleAdmin, caps.EntryRole())
	})

	t.Run("teacher cannot override", func(t *testing.T) {
		caps, err := Resolve(ctx, resolver, Caller{UserID: teacher.ID})
		require.NoError(t, err)
		assert.False(t, caps.OverrideLock)
		assert.False(t, caps.ManageExams)
		assert.Equal(t, models.RoleSubjectTeacher, caps.EntryRole())
	})

	t.Run("system admin reaches every tenant", func(t *testing.T) {
		caps, err := Resolve(ctx, resolver, Caller{UserID: sysAdmin.ID})
		require.NoError(t, err)
		assert.True(t, caps.CanAccess(uuid.New()))
	})

	t.Run("fails closed", func(t *testing.T) {
		for name, id := range map[string]uuid.UUID{
			"unknown":  uuid.New(),
			"inactive": inactive.ID,
			"orphan":   orphan.ID,
			"nil":      uuid.Nil,
		} {
			_, err := Resolve(ctx, resolver, Caller{UserID: id})
			assert.ErrorIs(t, err, ErrUnauthorized, name)
		}
	})
}
