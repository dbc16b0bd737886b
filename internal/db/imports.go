package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ResolveFeedDBName returns the most recently imported GTFS database whose
// name contains feed, from public.latest_successful_imports on the cluster's
// meta database.
func ResolveFeedDBName(ctx context.Context, meta *sql.DB, feed string) (string, error) {
	feed = strings.TrimSpace(feed)
	if feed == "" {
		return "", fmt.Errorf("feed name is required")
	}
	q := `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`
	var dbName sql.NullString
	if err := meta.QueryRowContext(ctx, q, feed).Scan(&dbName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("no GTFS import found for feed like %q", feed)
		}
		return "", err
	}
	if !dbName.Valid || dbName.String == "" {
		return "", fmt.Errorf("empty db_name for feed like %q", feed)
	}
	return dbName.String, nil
}
