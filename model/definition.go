package model

// DomainDefinition is the root structure of a definition file. Each file
// declares one area of the back office with its screens and lookups.
type DomainDefinition struct {
	Domain     string               `yaml:"domain"     json:"domain"`
	Version    string               `yaml:"version"    json:"version"`
	Navigation NavigationDefinition `yaml:"navigation" json:"navigation"`
	Screens    []ScreenDefinition   `yaml:"screens"    json:"screens,omitempty"`
	Lookups    []LookupDefinition   `yaml:"lookups"    json:"lookups,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// NavigationDefinition describes a domain's menu entry.
type NavigationDefinition struct {
	Label        string   `yaml:"label"        json:"label"`
	Icon         string   `yaml:"icon"         json:"icon"`
	Order        int      `yaml:"order"        json:"order"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
}

// Resource kinds a screen can list.
const (
	KindCategory = "category"
	KindService  = "service"
	KindUser     = "user"
	KindBooking  = "booking"
	KindSchedule = "schedule"
)

// Screen scopes.
const (
	// ScopeSubject binds the {subject_id} path placeholder to the session.
	ScopeSubject = "subject"
)

// ScreenDefinition describes one list screen and how its controller talks
// to the remote API.
type ScreenDefinition struct {
	ID           string                    `yaml:"id"           json:"id"`
	Title        string                    `yaml:"title"        json:"title"`
	Route        string                    `yaml:"route"        json:"route"`
	Icon         string                    `yaml:"icon"         json:"icon,omitempty"`
	Order        int                       `yaml:"order"        json:"order"`
	Resource     string                    `yaml:"resource"     json:"resource"`
	Scope        string                    `yaml:"scope"        json:"scope,omitempty"`
	Capabilities []string                  `yaml:"capabilities" json:"capabilities"`
	PageSize     int                       `yaml:"page_size"    json:"page_size"`
	Debounce     string                    `yaml:"debounce"     json:"debounce,omitempty"`
	Endpoints    EndpointsDefinition       `yaml:"endpoints"    json:"-"`
	Query        QueryParamsDefinition     `yaml:"query"      json:"-"`
	Mapping      ResponseMappingDefinition `yaml:"mapping" json:"-"`
	Columns      []ColumnDefinition        `yaml:"columns"      json:"columns,omitempty"`
	Filters      []FilterDefinition        `yaml:"filters"      json:"filters,omitempty"`
	Actions      []ActionDefinition        `yaml:"actions"      json:"actions,omitempty"`
	Messages     MessagesDefinition        `yaml:"messages"     json:"-"`
}

// EndpointsDefinition binds controller operations to remote endpoints. Paths
// may contain {id} and {subject_id}. A missing endpoint disables the
// operation.
type EndpointsDefinition struct {
	List   EndpointDefinition  `yaml:"list"   json:"list"`
	Create *EndpointDefinition `yaml:"create" json:"create,omitempty"`
	Update *EndpointDefinition `yaml:"update" json:"update,omitempty"`
	Delete *EndpointDefinition `yaml:"delete" json:"delete,omitempty"`
	Status *EndpointDefinition `yaml:"status" json:"status,omitempty"`
}

// EndpointDefinition is one remote call.
type EndpointDefinition struct {
	Method string `yaml:"method" json:"method"`
	Path   string `yaml:"path"   json:"path"`
	// StatusField names the body field carrying the new status.
	StatusField string `yaml:"status_field" json:"status_field,omitempty"`
}

// QueryParamsDefinition names the list query parameters the remote API
// expects.
type QueryParamsDefinition struct {
	Page     string `yaml:"page"      json:"page"`
	PageSize string `yaml:"page_size" json:"page_size"`
	Search   string `yaml:"search"    json:"search"`
}

// ResponseMappingDefinition describes where a list response keeps its rows
// and its page count.
type ResponseMappingDefinition struct {
	ItemsPath      string `yaml:"items_path"       json:"items_path"`
	TotalPagesPath string `yaml:"total_pages_path" json:"total_pages_path,omitempty"`
	ItemPath       string `yaml:"item_path"        json:"item_path,omitempty"`
	MessagePath    string `yaml:"message_path"     json:"message_path,omitempty"`
}

// ColumnDefinition describes a table column.
type ColumnDefinition struct {
	Field     string            `yaml:"field"      json:"field"`
	Label     string            `yaml:"label"      json:"label"`
	Type      string            `yaml:"type"       json:"type"`
	Format    string            `yaml:"format"     json:"format,omitempty"`
	StatusMap map[string]string `yaml:"status_map" json:"status_map,omitempty"`
}

// FilterDefinition describes a filter control above a table.
type FilterDefinition struct {
	Field   string         `yaml:"field"   json:"field"`
	Label   string         `yaml:"label"   json:"label"`
	Param   string         `yaml:"param"   json:"param,omitempty"`
	Options []StaticOption `yaml:"options" json:"options,omitempty"`
	Default string         `yaml:"default" json:"default,omitempty"`
}

// StaticOption is a label/value pair for dropdowns and filters.
type StaticOption struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// Action kinds.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionStatus = "status"
)

// ActionDefinition describes a screen or row action.
type ActionDefinition struct {
	ID           string                  `yaml:"id"           json:"id"`
	Label        string                  `yaml:"label"        json:"label"`
	Kind         string                  `yaml:"kind"         json:"kind"`
	Status       string                  `yaml:"status"       json:"status,omitempty"`
	When         []string                `yaml:"when"         json:"when,omitempty"`
	Capabilities []string                `yaml:"capabilities" json:"capabilities"`
	Confirmation *ConfirmationDefinition `yaml:"confirmation" json:"confirmation,omitempty"`
}

// ConfirmationDefinition describes a confirmation dialog.
type ConfirmationDefinition struct {
	Title   string `yaml:"title"   json:"title"`
	Message string `yaml:"message" json:"message"`
	Confirm string `yaml:"confirm" json:"confirm"`
}

// MessagesDefinition holds the notification texts of a screen. Empty
// entries fall back to generic messages.
type MessagesDefinition struct {
	Created      string `yaml:"created"       json:"created,omitempty"`
	Updated      string `yaml:"updated"       json:"updated,omitempty"`
	Deleted      string `yaml:"deleted"       json:"deleted,omitempty"`
	StatusChange string `yaml:"status_change" json:"status_change,omitempty"`
	LoadFailed   string `yaml:"load_failed"   json:"load_failed,omitempty"`
}

// LookupDefinition describes an option source for form dropdowns.
type LookupDefinition struct {
	ID           string   `yaml:"id"           json:"id"`
	Path         string   `yaml:"path"         json:"path"`
	ItemsPath    string   `yaml:"items_path"   json:"items_path"`
	LabelField   string   `yaml:"label_field"  json:"label_field"`
	ValueField   string   `yaml:"value_field"  json:"value_field"`
	SearchParam  string   `yaml:"search_param" json:"search_param,omitempty"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
	TTL          string   `yaml:"ttl"          json:"ttl,omitempty"`
}
