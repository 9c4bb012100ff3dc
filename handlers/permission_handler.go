package handlers

import (
	"net/http"

	"github.com/camden-git/gallerydelivery/permissions"
)

type PermissionHandler struct{}

type grantedPermission struct {
	permissions.PermissionDefinition
	Granted bool `json:"granted"`
}

type grantedGroup struct {
	Key         string              `json:"key"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Permissions []grantedPermission `json:"permissions"`
}

// ListPermissionDefinitions serves the permission groups, each permission marked with
// whether the calling admin holds it.
func (h *PermissionHandler) ListPermissionDefinitions(w http.ResponseWriter, r *http.Request) {
	admin := adminFrom(r)
	groups := make([]grantedGroup, 0, len(permissions.DefinedPermissionGroups))
	for _, group := range permissions.DefinedPermissionGroups {
		g := grantedGroup{Key: group.Key, Name: group.Name, Description: group.Description}
		for _, perm := range group.Permissions {
			g.Permissions = append(g.Permissions, grantedPermission{
				PermissionDefinition: perm,
				Granted:              admin != nil && admin.HasGlobalPermission(perm.Key),
			})
		}
		groups = append(groups, g)
	}
	writeJSON(w, http.StatusOK, groups)
}

// ListPermissionKeys serves every defined key and the subset the calling admin holds.
func (h *PermissionHandler) ListPermissionKeys(w http.ResponseWriter, r *http.Request) {
	granted := []string{}
	if admin := adminFrom(r); admin != nil {
		for _, key := range admin.GlobalPermissions {
			if permissions.IsValidPermissionKey(key) {
				granted = append(granted, key)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"all":     permissions.GetAllPermissionKeys(),
		"granted": granted,
	})
}
