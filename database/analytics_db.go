package database

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/camden-git/gallerydelivery/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

const secondsPerDay = 86400

// DayActionCounts holds the action totals of one UTC day. Day is days since the Unix epoch.
type DayActionCounts struct {
	Day            int64
	UniqueVisitors int64
	Views          int64
	Favorites      int64
	Downloads      int64
}

// ImageActionCounts holds the action totals of one image.
type ImageActionCounts struct {
	ImageID   uint
	Total     int64
	Views     int64
	Favorites int64
	Downloads int64
}

func windowed(b sq.SelectBuilder, galleryID uint, since, until int64) sq.SelectBuilder {
	return b.From("actions").
		Where(sq.Eq{"gallery_id": galleryID}).
		Where(sq.GtOrEq{"created_at": since}).
		Where(sq.Lt{"created_at": until})
}

var kindSums = []string{
	fmt.Sprintf("SUM(CASE WHEN kind = '%s' THEN 1 ELSE 0 END)", models.ActionView),
	fmt.Sprintf("SUM(CASE WHEN kind = '%s' THEN 1 ELSE 0 END)", models.ActionFavorite),
	fmt.Sprintf("SUM(CASE WHEN kind = '%s' THEN 1 ELSE 0 END)", models.ActionDownload),
}

// DailyActionCounts buckets a gallery's actions in [since, until) by UTC day.
func DailyActionCounts(ctx context.Context, db *sql.DB, galleryID uint, since, until int64) ([]DayActionCounts, error) {
	columns := append([]string{
		fmt.Sprintf("created_at / %d AS day", secondsPerDay),
		"COUNT(DISTINCT visitor_id)",
	}, kindSums...)

	queryBuilder := windowed(psql.Select(columns...), galleryID, since, until).
		GroupBy("day").
		OrderBy("day ASC")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for DailyActionCounts: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute DailyActionCounts query for gallery %d: %w", galleryID, err)
	}
	defer rows.Close()

	days := []DayActionCounts{}
	for rows.Next() {
		var d DayActionCounts
		if err := rows.Scan(&d.Day, &d.UniqueVisitors, &d.Views, &d.Favorites, &d.Downloads); err != nil {
			return nil, fmt.Errorf("failed to scan daily action row: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// WindowTotals returns the unique visitor count and per-kind totals over [since, until).
func WindowTotals(ctx context.Context, db *sql.DB, galleryID uint, since, until int64) (DayActionCounts, error) {
	columns := append([]string{"COUNT(DISTINCT visitor_id)"}, coalesced(kindSums)...)
	queryBuilder := windowed(psql.Select(columns...), galleryID, since, until)

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return DayActionCounts{}, fmt.Errorf("failed to build SQL for WindowTotals: %w", err)
	}

	var totals DayActionCounts
	err = db.QueryRowContext(ctx, sqlStr, args...).Scan(&totals.UniqueVisitors, &totals.Views, &totals.Favorites, &totals.Downloads)
	if err != nil {
		return DayActionCounts{}, fmt.Errorf("failed to query window totals for gallery %d: %w", galleryID, err)
	}
	return totals, nil
}

// TopImages ranks a gallery's images by total action count over [since, until). ties are
// broken by image id so the ranking is stable.
func TopImages(ctx context.Context, db *sql.DB, galleryID uint, since, until int64, limit int) ([]ImageActionCounts, error) {
	columns := append([]string{"image_id", "COUNT(*) AS total"}, kindSums...)
	queryBuilder := windowed(psql.Select(columns...), galleryID, since, until).
		GroupBy("image_id").
		OrderBy("total DESC", "image_id ASC").
		Limit(uint64(limit))

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for TopImages: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute TopImages query for gallery %d: %w", galleryID, err)
	}
	defer rows.Close()

	ranked := []ImageActionCounts{}
	for rows.Next() {
		var c ImageActionCounts
		if err := rows.Scan(&c.ImageID, &c.Total, &c.Views, &c.Favorites, &c.Downloads); err != nil {
			return nil, fmt.Errorf("failed to scan top image row: %w", err)
		}
		ranked = append(ranked, c)
	}
	return ranked, rows.Err()
}

// DayStart returns the Unix timestamp of the start of the given epoch day.
func DayStart(day int64) int64 {
	return day * secondsPerDay
}

// EpochDay returns the epoch day containing the Unix timestamp ts.
func EpochDay(ts int64) int64 {
	return ts / secondsPerDay
}

// SUM over zero rows is NULL; the aggregate row of an empty window must scan as zeros.
func coalesced(exprs []string) []string {
	out := make([]string, len(exprs))
	for i, e := range exprs {
		out[i] = "COALESCE(" + e + ", 0)"
	}
	return out
}
