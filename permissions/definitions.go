package permissions

// Permission keys checked by the admin routes.
const (
	GalleryList   = "gallery.list"
	GalleryCreate = "gallery.create"
	GalleryEdit   = "gallery.edit"
	GalleryDelete = "gallery.delete"
	GalleryUpload = "gallery.upload"
	VisitorList   = "visitor.list"
	VisitorRevoke = "visitor.revoke"
	AnalyticsView = "analytics.view"
)

// PermissionDefinition describes a single, specific permission
type PermissionDefinition struct {
	Key         string `json:"key"`         // unique key, e.g., "gallery.create"
	Name        string `json:"name"`        // friendly name, e.g., "Create Gallery"
	Description string `json:"description"` // detailed description of what the permission allows
}

// PermissionGroupDefinition groups related permissions
type PermissionGroupDefinition struct {
	Key         string                 `json:"key"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Permissions []PermissionDefinition `json:"permissions"`
}

// DefinedPermissionGroups holds all statically defined permission groups and their permissions
var DefinedPermissionGroups = []PermissionGroupDefinition{
	{
		Key:         "gallery",
		Name:        "Gallery Management",
		Description: "Permissions related to client galleries and their images.",
		Permissions: []PermissionDefinition{
			{Key: GalleryList, Name: "List Galleries", Description: "Allows viewing all galleries, including private and expired ones."},
			{Key: GalleryCreate, Name: "Create Gallery", Description: "Allows creating new client galleries."},
			{Key: GalleryEdit, Name: "Edit Gallery", Description: "Allows editing gallery details, password and download settings."},
			{Key: GalleryDelete, Name: "Delete Gallery", Description: "Allows deleting galleries and their images."},
			{Key: GalleryUpload, Name: "Upload Images", Description: "Allows uploading and removing gallery images."},
		},
	},
	{
		Key:         "visitor",
		Name:        "Visitor Management",
		Description: "Permissions related to gallery visitors and their credentials.",
		Permissions: []PermissionDefinition{
			{Key: VisitorList, Name: "List Visitors", Description: "Allows viewing who has accessed a gallery."},
			{Key: VisitorRevoke, Name: "Revoke Visitor Access", Description: "Allows invalidating a visitor's outstanding access tokens."},
		},
	},
	{
		Key:         "analytics",
		Name:        "Analytics",
		Description: "Permissions related to gallery usage analytics.",
		Permissions: []PermissionDefinition{
			{Key: AnalyticsView, Name: "View Analytics", Description: "Allows viewing and rebuilding gallery usage summaries."},
		},
	},
}

var (
	allPermissionKeysMap map[string]PermissionDefinition
	allPermissionKeys    []string
)

func init() {
	allPermissionKeysMap = make(map[string]PermissionDefinition)
	for _, group := range DefinedPermissionGroups {
		for _, perm := range group.Permissions {
			allPermissionKeysMap[perm.Key] = perm
			allPermissionKeys = append(allPermissionKeys, perm.Key)
		}
	}
}

// GetAllPermissionKeys returns a slice of all unique permission string keys
func GetAllPermissionKeys() []string {
	// return a copy to prevent modification of the internal slice
	keys := make([]string, len(allPermissionKeys))
	copy(keys, allPermissionKeys)
	return keys
}

// IsValidPermissionKey checks if a given permission key is defined
func IsValidPermissionKey(key string) bool {
	_, ok := allPermissionKeysMap[key]
	return ok
}
