package migrations

import _ "embed"

//go:embed 2025060101_create_tests.sql
var createTestsSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createTestsSQL),
		execSQL(`DROP TABLE IF EXISTS tests`),
	)
}
