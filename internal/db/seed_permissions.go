package db

import (
	"errors"
	"strings"

	"github.com/diewo77/go-assistance/internal/models"
	"gorm.io/gorm"
)

// SeedPermissions creates the core permissions for the application.
// Called during initial database setup or migration.
func SeedPermissions(db *gorm.DB) error {
	permissions := []struct {
		ResourceType string
		Action       string
		Description  string
	}{
		// Superadmin wildcard
		{"*", "*", "Full system access"},
		// Budget pools
		{"budget_pool", "*", "All budget pool actions"},
		{"budget_pool", "list", "List budget pools"},
		{"budget_pool", "view", "View budget pool details"},
		{"budget_pool", "create", "Create budget pools"},
		{"budget_pool", "update", "Edit budget pools and change their status"},
		{"budget_pool", "delete", "Delete budget pools"},
		{"budget_pool", "allocate", "Reserve and confirm pool funds for requests"},
		{"budget_pool", "transfer", "Transfer funds between pools"},
		{"budget_pool", "analytics", "View pool analytics and dashboard statistics"},
		// Transfers
		{"transfer", "approve", "Approve or reject pending transfers and large allocations"},
		// Demandes
		{"demande", "*", "All request actions"},
		{"demande", "list", "List requests"},
		{"demande", "view", "View request details"},
		{"demande", "create", "Submit requests"},
		{"demande", "update", "Submit or cancel own requests"},
		{"demande", "review", "Review, approve and reject requests"},
		// User management
		{"user", "*", "All user management"},
		{"user", "list", "List users"},
		{"user", "update", "Assign profiles to users"},
	}

	for _, p := range permissions {
		perm := models.Permission{
			ResourceType: p.ResourceType,
			Action:       p.Action,
			Description:  p.Description,
		}
		// Use FirstOrCreate to avoid duplicates
		result := db.Where("resource_type = ? AND action = ?", p.ResourceType, p.Action).
			FirstOrCreate(&perm)
		if result.Error != nil {
			return result.Error
		}
	}
	return nil
}

// SeedProfiles creates the default system profiles with their permissions.
func SeedProfiles(db *gorm.DB) error {
	if err := SeedPermissions(db); err != nil {
		return err
	}

	profiles := []struct {
		Name        string
		Description string
		Permissions []string // "resource:action" format
	}{
		{
			Name:        models.RoleAdmin,
			Description: "Full system administrator with all permissions",
			Permissions: []string{"*:*"},
		},
		{
			Name:        models.RoleFinanceManager,
			Description: "Manages the budget pools of their department",
			Permissions: []string{
				"budget_pool:*",
				"demande:list",
				"demande:view",
			},
		},
		{
			Name:        models.RoleCaseWorker,
			Description: "Reviews requests and reads budget pools",
			Permissions: []string{
				"budget_pool:list",
				"budget_pool:view",
				"demande:*",
			},
		},
		{
			Name:        models.RoleUser,
			Description: "Citizen submitting assistance requests",
			Permissions: []string{
				"demande:create",
				"demande:view",
				"demande:update",
			},
		},
	}

	for _, p := range profiles {
		var profile models.Profile
		err := db.Where("name = ?", p.Name).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			profile = models.Profile{Name: p.Name, Description: p.Description, IsSystem: true}
			err = db.Create(&profile).Error
		}
		if err != nil {
			return err
		}

		var perms []models.Permission
		for _, code := range p.Permissions {
			resource, action, _ := strings.Cut(code, ":")
			var perm models.Permission
			if err := db.Where("resource_type = ? AND action = ?", resource, action).First(&perm).Error; err == nil {
				perms = append(perms, perm)
			}
		}
		if err := db.Model(&profile).Association("Permissions").Replace(perms); err != nil {
			return err
		}
	}
	return nil
}
