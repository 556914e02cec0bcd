package main

// Database drivers linked into the binary. Core packages open result
// databases through database/sql by the configured driver name, so the
// driver choice stays here rather than in internal/.
import (
	_ "github.com/marcboeker/go-duckdb/v2"
)
