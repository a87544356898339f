package cdm

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

func wideDefinition(columns int) TableDefinition {
	cols := []ColumnDefinition{Text(KeyColumn)}
	for i := 1; i < columns; i++ {
		cols = append(cols, Text(fmt.Sprintf("c%d", i)))
	}
	return TableDefinition{ModelID: "cdm.test.wide", Suffix: "wide", Columns: cols}
}

func TestBuildUpsert_ChunksAtBindLimit(t *testing.T) {
	def := wideDefinition(300)
	rows := make([]Row, 500)
	for i := range rows {
		values := make([]Value, len(def.Columns))
		for c := range values {
			values[c] = Value{Kind: KindText, Text: fmt.Sprintf("%d-%d", i, c)}
		}
		rows[i] = Row{Key: fmt.Sprintf("k%d", i), Values: values}
	}

	stmts := BuildUpsert(`"public"."cdm_wide"`, def, rows)
	perChunk := database.MaxBindParams / len(def.Columns)
	require.Len(t, stmts, 3)

	total := 0
	for _, s := range stmts {
		assert.LessOrEqual(t, len(s.Args), database.MaxBindParams)
		assert.Equal(t, s.Rows*len(def.Columns), len(s.Args))
		assert.Contains(t, s.SQL, `ON CONFLICT ("cdm_id") DO UPDATE SET`)
		total += s.Rows
	}
	assert.Equal(t, perChunk, stmts[0].Rows)
	assert.Equal(t, 500, total)
}

func TestBuildUpsert_Empty(t *testing.T) {
	assert.Nil(t, BuildUpsert(`"public"."cdm_wide"`, wideDefinition(3), nil))
}

func TestBuildUpsert_KeyOnlyTableDoesNothingOnConflict(t *testing.T) {
	def := TableDefinition{ModelID: "cdm.test.keys", Suffix: "keys", Columns: []ColumnDefinition{Text(KeyColumn)}}
	stmts := BuildUpsert(`"public"."cdm_keys"`, def, []Row{{Key: "a", Values: []Value{{Kind: KindText, Text: "a"}}}})
	require.Len(t, stmts, 1)
	assert.True(t, strings.HasSuffix(stmts[0].SQL, `ON CONFLICT ("cdm_id") DO NOTHING`), stmts[0].SQL)
}

func TestDedup(t *testing.T) {
	rows := []Row{
		{Key: "a", Values: []Value{{Text: "a1"}}},
		{Key: ""},
		{Key: "b", Values: []Value{{Text: "b1"}}},
		{Key: "a", Values: []Value{{Text: "a2"}}},
	}
	kept, dropped := Dedup(rows)
	assert.Equal(t, 1, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, "a2", kept[0].Values[0].Text)
	assert.Equal(t, "b", kept[1].Key)
}

func TestExtractRows_KeyFromNumber(t *testing.T) {
	def, err := DefaultCatalog().Lookup("cdm.work.user")
	require.NoError(t, err)

	rows, err := ExtractRows(def, []models.NormalizedRecord{{
		EntityType: "work.user",
		Payload:    map[string]any{"cdm_id": 1001, "active": "TRUE"},
	}}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1001", rows[0].Key)
}

func TestExtractRows_StoredKeyMatchesDedupKey(t *testing.T) {
	def, err := DefaultCatalog().Lookup("cdm.work.user")
	require.NoError(t, err)
	keyIdx := def.keyIndex()

	rows, err := ExtractRows(def, []models.NormalizedRecord{
		{EntityType: "work.user", Payload: map[string]any{"cdm_id": "A", "active": true}},
		{EntityType: "work.user", Payload: map[string]any{"cdm_id": " A ", "active": false}},
	}, 0)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, row.Key, row.Values[keyIdx].Text)
	}

	kept, dropped := Dedup(rows)
	assert.Zero(t, dropped)
	require.Len(t, kept, 1)
	assert.Equal(t, "A", kept[0].Values[keyIdx].Arg())
}

func TestSink_ValidateConfig(t *testing.T) {
	s := NewSink(nil, nil, nil, nil)
	assert.NoError(t, s.ValidateConfig(map[string]any{"connection_url": "postgres://db/cdm"}))
	assert.ErrorIs(t, s.ValidateConfig(map[string]any{}), fernerrors.ErrConfiguration)
	assert.ErrorIs(t, s.ValidateConfig(map[string]any{"connection_url": "postgres://db/cdm", "ssl_mode": "sometimes"}), fernerrors.ErrConfiguration)
}

func TestTableDefinition_Validate(t *testing.T) {
	err := TableDefinition{ModelID: "cdm.x", Suffix: "x", Columns: []ColumnDefinition{Text("name")}}.Validate()
	assert.ErrorIs(t, err, fernerrors.ErrConfiguration)

	err = TableDefinition{ModelID: "cdm.x", Suffix: "x", Columns: []ColumnDefinition{Text(KeyColumn), Text("a"), Text("a")}}.Validate()
	assert.ErrorIs(t, err, fernerrors.ErrConfiguration)

	assert.NoError(t, TableDefinition{ModelID: "cdm.x", Suffix: "x", Columns: []ColumnDefinition{Text(KeyColumn)}}.Validate())
}

func TestCatalog_RegisterRejectsInvalid(t *testing.T) {
	c := NewCatalog()
	err := c.Register(TableDefinition{ModelID: "cdm.x", Suffix: "x"})
	assert.ErrorIs(t, err, fernerrors.ErrConfiguration)

	_, err = c.Lookup("cdm.x")
	assert.ErrorIs(t, err, fernerrors.ErrConfiguration)
}

func TestDefaultCatalog_BuiltinModels(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, []string{
		"cdm.doc.item",
		"cdm.doc.link",
		"cdm.doc.space",
		"cdm.file.item",
		"cdm.work.comment",
		"cdm.work.item",
		"cdm.work.project",
		"cdm.work.user",
		"cdm.work.worklog",
	}, c.ModelIDs())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{"connectionUrl": "postgres://db/cdm"})
	require.NoError(t, err)
	assert.Equal(t, "public", cfg.Schema)
	assert.Equal(t, "cdm_", cfg.TablePrefix)
	assert.False(t, cfg.AutoProvision)
	assert.Equal(t, "postgres://db/cdm", cfg.DSN())

	cfg, err = ParseConfig(map[string]any{
		"connection_url": "postgres://db/cdm",
		"table_prefix":   "",
		"ssl_mode":       "require",
	})
	require.NoError(t, err)
	assert.Equal(t, "", cfg.TablePrefix)
	assert.Equal(t, "postgres://db/cdm?sslmode=require", cfg.DSN())

	cfg, err = ParseConfig(map[string]any{"connection_url": "host=db dbname=cdm", "ssl_mode": "disable"})
	require.NoError(t, err)
	assert.Equal(t, "host=db dbname=cdm sslmode=disable", cfg.DSN())

	_, err = ParseConfig(map[string]any{"connection_url": "postgres://db/cdm", "ssl_mode": "sometimes"})
	assert.ErrorIs(t, err, fernerrors.ErrConfiguration)

	_, err = ParseConfig(nil)
	assert.ErrorIs(t, err, fernerrors.ErrConfiguration)
}
