package localstore

import "slices"

// ColumnType is the semantic type of a column. It decides how a scanned
// value is projected into a remote payload.
type ColumnType int

const (
	// Text columns are projected as NFC-normalized strings.
	Text ColumnType = iota
	// Integer columns are projected as int64.
	Integer
	// Real columns are projected as float64.
	Real
	// JSON columns hold serialized JSON text and are projected as raw JSON.
	JSON
	// Timestamp columns hold RFC 3339 text and are projected unchanged.
	Timestamp
)

func (c ColumnType) String() string {
	switch c {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Real:
		return "real"
	case JSON:
		return "json"
	case Timestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Column describes one remote-visible column.
type Column struct {
	Name string
	Type ColumnType
}

// Table describes a syncable table: the columns that make up its remote
// payload, in schema order. The bookkeeping columns synced, dirty and
// local_rev are never listed.
type Table struct {
	Name    string
	Columns []Column
	// Parent is the table this one references through a cascading foreign
	// key, empty for top-level tables.
	Parent string
}

// ColumnNames returns the payload column names in schema order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}

	return names
}

// HasColumn reports whether name is a payload column of t.
func (t Table) HasColumn(name string) bool {
	return slices.ContainsFunc(t.Columns, func(c Column) bool { return c.Name == name })
}

var (
	CasesTable = Table{
		Name: "cases",
		Columns: []Column{
			{"id", Text},
			{"user_id", Text},
			{"title", Text},
			{"case_name", Text},
			{"file_url", Text},
			{"issue", Text},
			{"rule", Text},
			{"analysis", Text},
			{"conclusion", Text},
			{"created_at", Timestamp},
			{"updated_at", Timestamp},
		},
	}

	FlashcardSetsTable = Table{
		Name: "flashcard_sets",
		Columns: []Column{
			{"id", Text},
			{"user_id", Text},
			{"title", Text},
			{"description", Text},
			{"created_at", Timestamp},
			{"updated_at", Timestamp},
		},
	}

	FlashcardsTable = Table{
		Name:   "flashcards",
		Parent: "flashcard_sets",
		Columns: []Column{
			{"id", Text},
			{"set_id", Text},
			{"front", Text},
			{"back", Text},
			{"created_at", Timestamp},
		},
	}

	MockTestsTable = Table{
		Name: "mock_tests",
		Columns: []Column{
			{"id", Text},
			{"user_id", Text},
			{"title", Text},
			{"description", Text},
			{"questions", JSON},
			{"created_at", Timestamp},
		},
	}

	TestResultsTable = Table{
		Name:   "test_results",
		Parent: "mock_tests",
		Columns: []Column{
			{"id", Text},
			{"user_id", Text},
			{"test_id", Text},
			{"score", Real},
			{"total_questions", Integer},
			{"answers", JSON},
			{"completed_at", Timestamp},
		},
	}

	StudyPlansTable = Table{
		Name: "study_plans",
		Columns: []Column{
			{"id", Text},
			{"user_id", Text},
			{"title", Text},
			{"description", Text},
			{"start_date", Timestamp},
			{"end_date", Timestamp},
			{"progress", Real},
			{"tasks", JSON},
			{"created_at", Timestamp},
			{"updated_at", Timestamp},
		},
	}
)

// Tables lists the syncable tables in sweep order. Parents come before
// their children so a child row is never pushed ahead of the row it
// references.
var Tables = []Table{
	CasesTable,
	FlashcardSetsTable,
	FlashcardsTable,
	MockTestsTable,
	TestResultsTable,
	StudyPlansTable,
}

// LookupTable returns the descriptor for a syncable table name.
func LookupTable(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}

	return Table{}, false
}
