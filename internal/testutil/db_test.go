package testutil

import (
	"strings"
	"testing"

	subdomain "github.com/sufrahq/sufra/internal/subscription/domain"
)

func TestOpenDBScansTimestampColumns(t *testing.T) {
	db := OpenDB(t)
	node := Node(t)

	plan := &subdomain.Plan{
		ID:          node.Generate(),
		Name:        "Lite 5",
		DaysCount:   5,
		MealsPerDay: 1,
		Price:       45000,
		IsActive:    true,
	}
	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("insert plan: %v", err)
	}

	var got subdomain.Plan
	if err := db.First(&got, "id = ?", plan.ID).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Errorf("timestamps did not scan: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}

	// The sqlite schema must not carry postgres-only column types.
	var ddl strings.Builder
	rows, err := db.Raw(`SELECT sql FROM sqlite_master WHERE type = 'table'`).Rows()
	if err != nil {
		t.Fatalf("read sqlite_master: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			t.Fatalf("scan ddl: %v", err)
		}
		ddl.WriteString(stmt)
	}
	if strings.Contains(ddl.String(), "TIMESTAMPTZ") {
		t.Error("schema still declares TIMESTAMPTZ columns")
	}
}
