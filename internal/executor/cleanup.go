package executor

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
)

// cleanupYearRange purges engine tables of rows outside [startYear, endYear]
// before a run, so stale years from earlier configurations cannot leak into
// fresh results. Best effort throughout: a missing database, missing table or
// failed statement is logged and skipped.
func cleanupYearRange(driverName, dbPath string, tables []string, startYear, endYear int) {
	if len(tables) == 0 {
		return
	}
	if _, err := os.Stat(dbPath); err != nil {
		return // nothing to clean on a first run
	}

	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		logging.ExecutorWarn("cleanup: open %s: %v", dbPath, err)
		return
	}
	defer db.Close()

	for _, table := range tables {
		stmt := fmt.Sprintf(
			"DELETE FROM %s WHERE simulation_year < ? OR simulation_year > ?", table)
		res, err := db.Exec(stmt, startYear, endYear)
		if err != nil {
			logging.ExecutorDebug("cleanup: %s: %v", table, err)
			continue
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			logging.Executor("cleanup: removed %d stale row(s) from %s", n, table)
		}
	}
}
