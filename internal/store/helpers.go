package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// scanRecords reads appointment rows of six text columns.
func scanRecords(rows *sql.Rows) ([][]string, error) {
	var records [][]string
	for rows.Next() {
		row := make([]string, models.AppointmentColumns)
		if err := rows.Scan(&row[0], &row[1], &row[2], &row[3], &row[4], &row[5]); err != nil {
			return nil, fmt.Errorf("scan appointment failed: %w", err)
		}
		records = append(records, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointment rows: %w", err)
	}
	return records, nil
}
