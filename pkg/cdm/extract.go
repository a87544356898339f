package cdm

import (
	"strings"

	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Row is one extracted record, values in table column order.
type Row struct {
	Key    string
	Values []Value
}

// ExtractRows turns records into typed rows. offset is the index of the first
// record within the enclosing batch and is only used in error reports.
func ExtractRows(def TableDefinition, records []models.NormalizedRecord, offset int) ([]Row, error) {
	keyIdx := def.keyIndex()
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		payload, ok := rec.PayloadMap()
		if !ok {
			return nil, fernerrors.NewPayloadShapeError(rec.EntityType, rec.LogicalID, offset+i, rec.Payload)
		}
		values := make([]Value, len(def.Columns))
		for c, col := range def.Columns {
			values[c] = col.Extract(payload)
		}
		row := Row{Values: values}
		if keyIdx >= 0 && !values[keyIdx].Null {
			// The stored key is the trimmed one so it agrees with dedup.
			row.Key = strings.TrimSpace(values[keyIdx].Text)
			values[keyIdx].Text = row.Key
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Dedup collapses rows sharing a key. The surviving row keeps the position of
// the first occurrence and the values of the last. Rows without a key are
// dropped and counted.
func Dedup(rows []Row) (kept []Row, dropped int) {
	index := make(map[string]int, len(rows))
	kept = make([]Row, 0, len(rows))
	for _, row := range rows {
		if row.Key == "" {
			dropped++
			continue
		}
		if i, ok := index[row.Key]; ok {
			kept[i] = row
			continue
		}
		index[row.Key] = len(kept)
		kept = append(kept, row)
	}
	return kept, dropped
}

// QualifiedTable returns the quoted "<schema>"."<prefix><suffix>" name.
func QualifiedTable(schema, prefix, suffix string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(TableName(prefix, suffix))
}

func TableName(prefix, suffix string) string {
	return prefix + suffix
}

func quoteAll(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
	}
	return quoted
}

// Statement is one built SQL statement and its arguments.
type Statement struct {
	SQL  string
	Args []any
	Rows int
}

// BuildUpsert renders the batched upsert for rows. A single statement is
// returned unless the rows would exceed the bind parameter limit, in which
// case they are split into as few chunks as the limit allows.
func BuildUpsert(table string, def TableDefinition, rows []Row) []Statement {
	if len(rows) == 0 || len(def.Columns) == 0 {
		return nil
	}

	cols := quoteAll(def.ColumnNames())
	update := quoteAll(def.NonKeyColumns())
	conflict := []string{pq.QuoteIdentifier(KeyColumn)}

	perChunk := database.MaxBindParams / len(cols)
	if perChunk < 1 {
		perChunk = 1
	}

	statements := make([]Statement, 0, (len(rows)+perChunk-1)/perChunk)
	for start := 0; start < len(rows); start += perChunk {
		end := start + perChunk
		if end > len(rows) {
			end = len(rows)
		}

		ib := database.NewInsertBuilder().InsertInto(table).Cols(cols...)
		for _, row := range rows[start:end] {
			args := make([]any, len(row.Values))
			for i, v := range row.Values {
				args[i] = v.Arg()
			}
			ib = ib.Values(args...)
		}
		ib = ib.OnConflictDoUpdate(conflict, update)

		query, args := ib.Build()
		statements = append(statements, Statement{SQL: query, Args: args, Rows: end - start})
	}
	return statements
}
