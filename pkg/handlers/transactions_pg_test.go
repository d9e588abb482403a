package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/veridian-labs/veridian/core/pkg/database"
	"github.com/veridian-labs/veridian/core/pkg/fraud"
)

// A stored rule whose expression no longer compiles is skipped at boot;
// the remaining rules still load.
func TestLoadFraudRulesSkipsBrokenExpressions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "name", "description", "expression", "severity", "active",
		"created_by", "created_at", "updated_at",
	}).
		AddRow("r1", "large cash", "", `tx.amount > 10000.0`, "high", true, "root", now, now).
		AddRow("r2", "broken", "", `tx.amount >`, "low", true, "root", now, now)
	mock.ExpectQuery("SELECT id, name, description, expression").WillReturnRows(rows)

	rules, err := fraud.NewEngine()
	require.NoError(t, err)

	loaded, err := LoadFraudRules(context.Background(), database.NewFromDB(db, "postgres"), rules)
	require.NoError(t, err)
	require.Equal(t, 1, loaded)

	kept := rules.ListRules()
	require.Len(t, kept, 1)
	require.Equal(t, "r1", kept[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
