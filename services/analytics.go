package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/database"
	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/repository"
)

const dayLayout = "2006-01-02"

// DaySummary is one UTC day of gallery activity.
type DaySummary struct {
	Day            string `json:"day"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
	Views          int64  `json:"views"`
	Favorites      int64  `json:"favorites"`
	Downloads      int64  `json:"downloads"`
}

// ImageSummary is one entry of the top images ranking.
type ImageSummary struct {
	ImageID      uint   `json:"imageId"`
	Filename     string `json:"filename"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Total        int64  `json:"total"`
	Views        int64  `json:"views"`
	Favorites    int64  `json:"favorites"`
	Downloads    int64  `json:"downloads"`
}

// AnalyticsSummary is the aggregator output for one gallery over the trailing window.
type AnalyticsSummary struct {
	GalleryID      uint           `json:"galleryId"`
	WindowDays     int            `json:"windowDays"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	UniqueVisitors int64          `json:"uniqueVisitors"`
	Views          int64          `json:"views"`
	Favorites      int64          `json:"favorites"`
	Downloads      int64          `json:"downloads"`
	Daily          []DaySummary   `json:"daily"`
	TopImages      []ImageSummary `json:"topImages"`
}

// Analytics computes usage summaries from the action log. it keeps no state of its own;
// the daily_stats rows it writes in Rebuild are a cache over the same computation.
type Analytics struct {
	db         *sql.DB
	galleries  repository.GalleryRepositoryInterface
	images     repository.ImageRepositoryInterface
	stats      repository.DailyStatRepositoryInterface
	windowDays int
	topN       int
	now        func() time.Time
}

func NewAnalytics(
	db *sql.DB,
	galleries repository.GalleryRepositoryInterface,
	images repository.ImageRepositoryInterface,
	stats repository.DailyStatRepositoryInterface,
	windowDays, topN int,
) *Analytics {
	if windowDays <= 0 {
		windowDays = 30
	}
	if topN <= 0 {
		topN = 10
	}
	return &Analytics{
		db:         db,
		galleries:  galleries,
		images:     images,
		stats:      stats,
		windowDays: windowDays,
		topN:       topN,
		now:        time.Now,
	}
}

// window returns the first and one-past-last epoch day of the trailing window, today
// included.
func (a *Analytics) window() (int64, int64) {
	today := database.EpochDay(a.now().Unix())
	return today - int64(a.windowDays) + 1, today + 1
}

func formatDay(day int64) string {
	return time.Unix(database.DayStart(day), 0).UTC().Format(dayLayout)
}

// Summary aggregates a gallery's actions over the trailing window: totals, one bucket
// per day (days without activity included as zeros) and the top images by action count.
func (a *Analytics) Summary(ctx context.Context, galleryID uint) (*AnalyticsSummary, error) {
	if err := a.requireGallery(ctx, galleryID); err != nil {
		return nil, err
	}

	fromDay, untilDay := a.window()
	since, until := database.DayStart(fromDay), database.DayStart(untilDay)

	totals, err := database.WindowTotals(ctx, a.db, galleryID, since, until)
	if err != nil {
		return nil, apperrors.Wrap(err, "analytics: window totals")
	}
	days, err := database.DailyActionCounts(ctx, a.db, galleryID, since, until)
	if err != nil {
		return nil, apperrors.Wrap(err, "analytics: daily counts")
	}
	ranked, err := database.TopImages(ctx, a.db, galleryID, since, until, a.topN)
	if err != nil {
		return nil, apperrors.Wrap(err, "analytics: top images")
	}

	summary := &AnalyticsSummary{
		GalleryID:      galleryID,
		WindowDays:     a.windowDays,
		From:           formatDay(fromDay),
		To:             formatDay(untilDay - 1),
		UniqueVisitors: totals.UniqueVisitors,
		Views:          totals.Views,
		Favorites:      totals.Favorites,
		Downloads:      totals.Downloads,
		Daily:          fillDays(days, fromDay, untilDay),
		TopImages:      make([]ImageSummary, 0, len(ranked)),
	}

	if len(ranked) > 0 {
		images, err := a.images.ListByGallery(ctx, galleryID)
		if err != nil {
			return nil, apperrors.Wrap(err, "analytics: list images")
		}
		byID := make(map[uint]models.Image, len(images))
		for _, img := range images {
			byID[img.ID] = img
		}
		for _, r := range ranked {
			entry := ImageSummary{
				ImageID:   r.ImageID,
				Total:     r.Total,
				Views:     r.Views,
				Favorites: r.Favorites,
				Downloads: r.Downloads,
			}
			if img, ok := byID[r.ImageID]; ok {
				entry.Filename = img.Filename
				entry.ThumbnailURL = img.ThumbnailURL
			}
			summary.TopImages = append(summary.TopImages, entry)
		}
	}
	return summary, nil
}

func fillDays(counts []database.DayActionCounts, fromDay, untilDay int64) []DaySummary {
	byDay := make(map[int64]database.DayActionCounts, len(counts))
	for _, c := range counts {
		byDay[c.Day] = c
	}
	out := make([]DaySummary, 0, untilDay-fromDay)
	for day := fromDay; day < untilDay; day++ {
		c := byDay[day]
		out = append(out, DaySummary{
			Day:            formatDay(day),
			UniqueVisitors: c.UniqueVisitors,
			Views:          c.Views,
			Favorites:      c.Favorites,
			Downloads:      c.Downloads,
		})
	}
	return out
}

// Rebuild recomputes the cached daily_stats rows of the trailing window from the log.
func (a *Analytics) Rebuild(ctx context.Context, galleryID uint) (int, error) {
	if err := a.requireGallery(ctx, galleryID); err != nil {
		return 0, err
	}

	fromDay, untilDay := a.window()
	days, err := database.DailyActionCounts(ctx, a.db, galleryID, database.DayStart(fromDay), database.DayStart(untilDay))
	if err != nil {
		return 0, apperrors.Wrap(err, "analytics: daily counts")
	}

	updatedAt := a.now().Unix()
	stats := make([]models.DailyStat, 0, len(days))
	for _, d := range days {
		stats = append(stats, models.DailyStat{
			GalleryID:      galleryID,
			Day:            formatDay(d.Day),
			UniqueVisitors: d.UniqueVisitors,
			Views:          d.Views,
			Favorites:      d.Favorites,
			Downloads:      d.Downloads,
			UpdatedAt:      updatedAt,
		})
	}

	if err := a.stats.ReplaceRange(ctx, galleryID, formatDay(fromDay), formatDay(untilDay-1), stats); err != nil {
		return 0, apperrors.Wrap(err, "analytics: replace daily stats")
	}
	return len(stats), nil
}

// RebuildAll rebuilds the cache of every gallery. a failing gallery is logged and skipped.
func (a *Analytics) RebuildAll(ctx context.Context) error {
	galleries, err := a.galleries.ListAll(ctx)
	if err != nil {
		return apperrors.Wrap(err, "analytics: list galleries")
	}
	for _, g := range galleries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.Rebuild(ctx, g.ID); err != nil {
			log.Printf("analytics: failed to rebuild daily stats for gallery %d: %v", g.ID, err)
		}
	}
	return nil
}

// CachedDaily returns the cached daily rows of the trailing window.
func (a *Analytics) CachedDaily(ctx context.Context, galleryID uint) ([]models.DailyStat, error) {
	fromDay, untilDay := a.window()
	stats, err := a.stats.ListRange(ctx, galleryID, formatDay(fromDay), formatDay(untilDay-1))
	if err != nil {
		return nil, apperrors.Wrap(err, "analytics: cached daily stats")
	}
	return stats, nil
}

func (a *Analytics) requireGallery(ctx context.Context, galleryID uint) error {
	if _, err := a.galleries.GetByID(ctx, galleryID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrGalleryNotFound
		}
		return apperrors.Wrap(err, "analytics: gallery lookup")
	}
	return nil
}
