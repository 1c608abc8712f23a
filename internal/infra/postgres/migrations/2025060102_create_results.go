package migrations

import _ "embed"

//go:embed 2025060102_create_results.sql
var createResultsSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createResultsSQL),
		execSQL(`DROP TABLE IF EXISTS results`),
	)
}
