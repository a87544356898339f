package cdm

import (
	"sort"
	"strings"
	"sync"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
)

// KeyColumn is the primary key every CDM table carries.
const KeyColumn = "cdm_id"

// TableDefinition describes the physical table for one canonical model.
type TableDefinition struct {
	ModelID string
	Suffix  string
	Columns []ColumnDefinition
}

// Validate checks that the key column is present exactly once and that
// column names are unique.
func (t TableDefinition) Validate() error {
	if strings.TrimSpace(t.ModelID) == "" {
		return fernerrors.NewConfigurationError("cdm", "table definition has no model id").WithField("model_id")
	}
	if strings.TrimSpace(t.Suffix) == "" {
		return fernerrors.NewConfigurationError("cdm", "model %s has no table suffix", t.ModelID).WithField("suffix")
	}
	seen := make(map[string]struct{}, len(t.Columns))
	keys := 0
	for _, c := range t.Columns {
		if _, dup := seen[c.Name]; dup {
			return fernerrors.NewConfigurationError("cdm", "model %s declares column %s twice", t.ModelID, c.Name).WithField(c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.Name == KeyColumn {
			keys++
		}
	}
	if keys != 1 {
		return fernerrors.NewConfigurationError("cdm", "model %s must declare exactly one %s column", t.ModelID, KeyColumn).WithField(KeyColumn)
	}
	return nil
}

// ColumnNames returns the column names in declaration order.
func (t TableDefinition) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// NonKeyColumns returns every column name except cdm_id.
func (t TableDefinition) NonKeyColumns() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name != KeyColumn {
			names = append(names, c.Name)
		}
	}
	return names
}

func (t TableDefinition) keyIndex() int {
	for i, c := range t.Columns {
		if c.Name == KeyColumn {
			return i
		}
	}
	return -1
}

// Catalog is the registry of canonical model ids to table definitions.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]TableDefinition
}

func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[string]TableDefinition)}
}

// Register adds or replaces a definition after validating it.
func (c *Catalog) Register(def TableDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[def.ModelID] = def
	return nil
}

// Lookup resolves a model id. Bare entity types such as "work.item" are
// tried with the "cdm." prefix as well.
func (c *Catalog) Lookup(modelID string) (TableDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if def, ok := c.tables[modelID]; ok {
		return def, nil
	}
	if !strings.HasPrefix(modelID, "cdm.") {
		if def, ok := c.tables["cdm."+modelID]; ok {
			return def, nil
		}
	}
	return TableDefinition{}, fernerrors.NewConfigurationError("cdm", "unknown canonical model id %q", modelID).WithField("cdm_model_id")
}

func (c *Catalog) ModelIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.tables))
	for id := range c.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultCatalog returns a catalog holding the built-in work, doc and file
// models.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, def := range BuiltinModels() {
		if err := c.Register(def); err != nil {
			panic(err)
		}
	}
	return c
}

func BuiltinModels() []TableDefinition {
	return []TableDefinition{
		{
			ModelID: "cdm.work.project",
			Suffix:  "work_project",
			Columns: []ColumnDefinition{
				Text(KeyColumn),
				Text("source_system"),
				Text("source_project_id"),
				Text("source_project_key"),
				Text("name"),
				Text("description"),
				Text("url"),
				Timestamp("created_at"),
				Timestamp("updated_at"),
				JSONObject("properties"),
			},
		},
		{
			ModelID: "cdm.work.user",
			Suffix:  "work_user",
			Columns: []ColumnDefinition{
				Text(KeyColumn),
				Text("source_system"),
				Text("source_user_id"),
				Text("display_name"),
				Text("email"),
				Bool("active"),
				JSONObject("properties"),
			},
		},
		{
			ModelID: "cdm.work.item",
			Suffix:  "work_item",
			Columns: []ColumnDefinition{
				Text(KeyColumn),
				Text("source_system"),
				Text("source_id"),
				Text("source_issue_key"),
				Text("project_cdm_id"),
				Text("reporter_cdm_id"),
				Text("assignee_cdm_id"),
				Text("issue_type"),
				Text("status"),
				Text("status_category"),
				Text("priority"),
				Text("summary"),
				Text("description"),
				JSONArray("labels"),
				Timestamp("created_at"),
				Timestamp("updated_at"),
				Timestamp("closed_at"),
				JSONObject("properties"),
			},
		},
		{
			ModelID: "cdm.work.comment",
			Suffix:  "work_comment",
			Columns: []ColumnDefinition{
				Text(KeyColumn),
				Text("source_system"),
				Text("item_cdm_id"),
				Text("author_cdm_id"),
				Text("body"),
				Text("visibility"),
				Timestamp("created_at"),
				Timestamp("updated_at"),
				JSONObject("properties"),
			},
		},
		{
			ModelID: "cdm.work.worklog",
			Suffix:  "work_worklog",
			Columns: []ColumnDefinition{
				Text(KeyColumn),
				Text("source_system"),
				Text("item_cdm_id"),
				Text("author_cdm_id"),
				Timestamp("started_at"),
				Number("time_spent_seconds"),
				Text("comment"),
				Text("visibility"),
				JSONObject("properties"),
			},
		},
		{
			ModelID: "cdm.doc.space",
			Suffix:  "doc_space",
			Columns: []ColumnDefinition{
				Text(KeyColumn),
				Text("source_system"),
				Text("source_space_id"),
				Text("key"),
				Text("name"),
				Text("description"),
				Text("url"),
				JSONObject("properties"),
			},
		},
		{
			ModelID: "cdm.doc.item",
			Suffix:  "doc_item",
			Columns: []ColumnDefinition{
				Text(KeyColumn),
				Text("source_system"),
				Text("source_item_id"),
				Text("space_cdm_id"),
				Text("parent_item_cdm_id"),
				Text("title"),
				Text("doc_type"),
				Text("mime_type"),
				Text("url"),
				Text("created_by_cdm_id"),
				Text("updated_by_cdm_id"),
				Timestamp("created_at"),
				Timestamp("updated_at"),
				JSONObject("properties"),
			},
		},
		{
			ModelID: "cdm.doc.link",
			Suffix:  "doc_link",
			Columns: []ColumnDefinition{
				Text(KeyColumn),
				Text("source_system"),
				Text("from_item_cdm_id"),
				Text("to_item_cdm_id"),
				Text("url"),
				Text("link_type"),
				Timestamp("created_at"),
				JSONObject("properties"),
			},
		},
		{
			ModelID: "cdm.file.item",
			Suffix:  "file_item",
			Columns: []ColumnDefinition{
				Text(KeyColumn),
				Text("source_system"),
				Text("source_file_id"),
				Text("space_cdm_id"),
				Text("parent_item_cdm_id"),
				Text("name"),
				Text("mime_type"),
				Number("size_bytes"),
				Text("checksum"),
				Text("url"),
				Bool("trashed"),
				Timestamp("created_at"),
				Timestamp("updated_at"),
				JSONObject("properties"),
			},
		},
	}
}
