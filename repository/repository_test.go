package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/gallerydelivery/database"
	"github.com/camden-git/gallerydelivery/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return newTestDBConns(t, 1)
}

func newTestDBConns(t *testing.T, maxOpenConns int) *gorm.DB {
	t.Helper()
	db, err := database.InitGormDB(filepath.Join(t.TempDir(), "test.db"), maxOpenConns, logger.Silent)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createGallery(t *testing.T, db *gorm.DB, slug string) *models.Gallery {
	t.Helper()
	g := &models.Gallery{Slug: slug, Title: slug, IsPublic: true, DownloadEnabled: true}
	require.NoError(t, NewGalleryRepository(db).Create(context.Background(), g))
	return g
}

func newImage(galleryID uint, name string) *models.Image {
	return &models.Image{
		GalleryID:    galleryID,
		Filename:     name,
		OriginalKey:  "o/" + name,
		DisplayKey:   "d/" + name,
		ThumbnailKey: "t/" + name,
		OriginalURL:  "/media/o/" + name,
		DisplayURL:   "/media/d/" + name,
		ThumbnailURL: "/media/t/" + name,
		ContentType:  "image/jpeg",
	}
}

func TestImageRepository_CreateNextSequential(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	g := createGallery(t, db, "seq")
	other := createGallery(t, db, "other")
	repo := NewImageRepository(db)

	for i := 0; i < 3; i++ {
		img := newImage(g.ID, fmt.Sprintf("img-%d.jpg", i))
		require.NoError(t, repo.CreateNext(ctx, img))
		assert.Equal(t, i, img.OrderIndex)
	}

	first := newImage(other.ID, "first.jpg")
	require.NoError(t, repo.CreateNext(ctx, first))
	assert.Equal(t, 0, first.OrderIndex, "order index is scoped to the gallery")

	count, err := repo.CountByGallery(ctx, g.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestImageRepository_CreateNextConcurrent(t *testing.T) {
	tests := []struct {
		name  string
		conns int
		n     int
	}{
		{name: "single connection", conns: 1, n: 20},
		{name: "connection pool", conns: 8, n: 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDBConns(t, tt.conns)
			ctx := context.Background()
			g := createGallery(t, db, "concurrent")
			repo := NewImageRepository(db)

			var wg sync.WaitGroup
			errs := make(chan error, tt.n)
			for i := 0; i < tt.n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- repo.CreateNext(ctx, newImage(g.ID, fmt.Sprintf("img-%02d.jpg", i)))
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			images, err := repo.ListByGallery(ctx, g.ID)
			require.NoError(t, err)
			require.Len(t, images, tt.n)
			for i, img := range images {
				assert.Equal(t, i, img.OrderIndex)
			}
		})
	}
}

func TestImageRepository_DuplicateOrderIndexRejected(t *testing.T) {
	db := newTestDB(t)
	g := createGallery(t, db, "dup")

	a := newImage(g.ID, "a.jpg")
	require.NoError(t, db.Create(a).Error)
	b := newImage(g.ID, "b.jpg")
	err := db.Create(b).Error
	require.Error(t, err)
	assert.True(t, database.IsUniqueConstraintViolation(err))
}

func TestImageRepository_DeleteRemovesActions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	g := createGallery(t, db, "delete-image")
	images := NewImageRepository(db)
	actions := NewActionRepository(db)

	img := newImage(g.ID, "a.jpg")
	require.NoError(t, images.CreateNext(ctx, img))
	require.NoError(t, actions.Record(ctx, &models.Action{VisitorID: 1, ImageID: img.ID, GalleryID: g.ID, Kind: models.ActionView}))

	require.NoError(t, images.Delete(ctx, img.ID))
	count, err := actions.CountByKind(ctx, g.ID, models.ActionView)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.True(t, errors.Is(images.Delete(ctx, img.ID), gorm.ErrRecordNotFound))
}

func TestGalleryRepository_SlugAndCover(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewGalleryRepository(db)
	g := createGallery(t, db, "smith-wedding")

	found, err := repo.GetBySlug(ctx, "smith-wedding")
	require.NoError(t, err)
	assert.Equal(t, g.ID, found.ID)

	_, err = repo.GetBySlug(ctx, "missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	err = repo.Create(ctx, &models.Gallery{Slug: "smith-wedding", Title: "again"})
	require.Error(t, err)
	assert.True(t, database.IsUniqueConstraintViolation(err))

	set, err := repo.SetCoverIfEmpty(ctx, g.ID, "/media/first.jpg")
	require.NoError(t, err)
	assert.True(t, set)
	set, err = repo.SetCoverIfEmpty(ctx, g.ID, "/media/second.jpg")
	require.NoError(t, err)
	assert.False(t, set)

	found, err = repo.GetByID(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, found.CoverImageURL)
	assert.Equal(t, "/media/first.jpg", *found.CoverImageURL)

	require.NoError(t, repo.ClearCoverIfMatches(ctx, g.ID, "/media/first.jpg"))
	found, err = repo.GetByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Nil(t, found.CoverImageURL)
}

func TestGalleryRepository_UpdateAndListPublic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewGalleryRepository(db)
	visible := createGallery(t, db, "visible")
	hidden := createGallery(t, db, "hidden")
	expired := createGallery(t, db, "expired")

	no := false
	require.NoError(t, repo.Update(ctx, hidden.ID, GalleryUpdate{IsPublic: &no}))
	past := time.Now().Add(-time.Hour).Unix()
	require.NoError(t, repo.Update(ctx, expired.ID, GalleryUpdate{ExpiresAt: &past}))

	hash := "abc"
	require.NoError(t, repo.Update(ctx, visible.ID, GalleryUpdate{PasswordHash: &hash, DownloadEnabled: &no}))
	got, err := repo.GetByID(ctx, visible.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPasswordProtected())
	assert.False(t, got.DownloadEnabled)

	empty := ""
	require.NoError(t, repo.Update(ctx, visible.ID, GalleryUpdate{PasswordHash: &empty}))
	got, err = repo.GetByID(ctx, visible.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPasswordProtected())

	public, err := repo.ListPublic(ctx, time.Now().Unix())
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, "visible", public[0].Slug)

	assert.True(t, errors.Is(repo.Update(ctx, 9999, GalleryUpdate{IsPublic: &no}), gorm.ErrRecordNotFound))
}

func TestGalleryRepository_DeleteCascades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewGalleryRepository(db)
	g := createGallery(t, db, "cascade")
	keep := createGallery(t, db, "keep")

	img := newImage(g.ID, "a.jpg")
	require.NoError(t, NewImageRepository(db).CreateNext(ctx, img))
	v, _, err := NewVisitorRepository(db).GetOrCreate(ctx, g.ID, "a@example.com")
	require.NoError(t, err)
	require.NoError(t, NewActionRepository(db).Record(ctx, &models.Action{VisitorID: v.ID, ImageID: img.ID, GalleryID: g.ID, Kind: models.ActionView}))
	keepImg := newImage(keep.ID, "k.jpg")
	require.NoError(t, NewImageRepository(db).CreateNext(ctx, keepImg))

	deleted, err := repo.Delete(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "o/a.jpg", deleted[0].OriginalKey)

	var n int64
	require.NoError(t, db.Model(&models.Action{}).Where("gallery_id = ?", g.ID).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&models.Visitor{}).Where("gallery_id = ?", g.ID).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&models.Image{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	_, err = repo.Delete(ctx, g.ID)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestVisitorRepository_GetOrCreateNormalizesEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewVisitorRepository(db)
	g := createGallery(t, db, "visitors")
	other := createGallery(t, db, "visitors-2")

	v1, created, err := repo.GetOrCreate(ctx, g.ID, "  Client@Example.com ")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "client@example.com", v1.Email)
	assert.NotEmpty(t, v1.AccessToken)

	v2, created, err := repo.GetOrCreate(ctx, g.ID, "client@example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, v1.ID, v2.ID)
	assert.Equal(t, v1.AccessToken, v2.AccessToken)

	v3, created, err := repo.GetOrCreate(ctx, other.ID, "client@example.com")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, v1.ID, v3.ID)
}

func TestVisitorRepository_ConcurrentFirstLogin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewVisitorRepository(db)
	g := createGallery(t, db, "race")

	const n = 8
	ids := make(chan uint, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := repo.GetOrCreate(ctx, g.ID, "same@example.com")
			if assert.NoError(t, err) {
				ids <- v.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var first uint
	for id := range ids {
		if first == 0 {
			first = id
		}
		assert.Equal(t, first, id)
	}
}

func TestVisitorRepository_RotateAccessToken(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewVisitorRepository(db)
	g := createGallery(t, db, "rotate")

	v, _, err := repo.GetOrCreate(ctx, g.ID, "a@example.com")
	require.NoError(t, err)

	token, err := repo.RotateAccessToken(ctx, v.ID)
	require.NoError(t, err)
	assert.NotEqual(t, v.AccessToken, token)

	reloaded, err := repo.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, token, reloaded.AccessToken)

	_, err = repo.RotateAccessToken(ctx, 9999)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestActionRepository_ToggleFavoriteParity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewActionRepository(db)
	g := createGallery(t, db, "favorites")
	img := newImage(g.ID, "a.jpg")
	require.NoError(t, NewImageRepository(db).CreateNext(ctx, img))

	for i := 1; i <= 5; i++ {
		favorited, err := repo.ToggleFavorite(ctx, 7, img.ID, g.ID, time.Now().Unix())
		require.NoError(t, err)
		assert.Equal(t, i%2 == 1, favorited, "toggle %d", i)

		set, err := repo.FavoriteImageIDs(ctx, 7, g.ID)
		require.NoError(t, err)
		_, present := set[img.ID]
		assert.Equal(t, favorited, present)

		count, err := repo.CountByKind(ctx, g.ID, models.ActionFavorite)
		require.NoError(t, err)
		assert.LessOrEqual(t, count, int64(1))
	}
}

func TestActionRepository_SecondFavoriteRowRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewActionRepository(db)

	require.NoError(t, repo.Record(ctx, &models.Action{VisitorID: 1, ImageID: 2, GalleryID: 3, Kind: models.ActionFavorite}))
	err := repo.Record(ctx, &models.Action{VisitorID: 1, ImageID: 2, GalleryID: 3, Kind: models.ActionFavorite})
	require.Error(t, err)
	assert.True(t, database.IsUniqueConstraintViolation(err))

	// views are never unique
	require.NoError(t, repo.Record(ctx, &models.Action{VisitorID: 1, ImageID: 2, GalleryID: 3, Kind: models.ActionView}))
	require.NoError(t, repo.Record(ctx, &models.Action{VisitorID: 1, ImageID: 2, GalleryID: 3, Kind: models.ActionView}))
}

func TestDailyStatRepository_ReplaceRange(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewDailyStatRepository(db)

	require.NoError(t, repo.ReplaceRange(ctx, 1, "2024-01-01", "2024-01-31", []models.DailyStat{
		{Day: "2024-01-02", Views: 3, UpdatedAt: 1},
		{Day: "2024-01-05", Views: 1, UpdatedAt: 1},
	}))
	require.NoError(t, repo.ReplaceRange(ctx, 1, "2024-01-01", "2024-01-31", []models.DailyStat{
		{Day: "2024-01-05", Views: 4, Downloads: 2, UpdatedAt: 2},
	}))

	stats, err := repo.ListRange(ctx, 1, "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "2024-01-05", stats[0].Day)
	assert.EqualValues(t, 4, stats[0].Views)
	assert.EqualValues(t, 2, stats[0].Downloads)

	other, err := repo.ListRange(ctx, 2, "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUserRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewGormUserRepository(db)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	u := &models.User{Username: "studio", GlobalPermissions: []string{"gallery.list"}}
	require.NoError(t, u.SetPassword("secret"))
	require.NoError(t, repo.Create(ctx, u))

	found, err := repo.GetByUsername(ctx, "studio")
	require.NoError(t, err)
	assert.True(t, found.CheckPassword("secret"))
	assert.False(t, found.CheckPassword("wrong"))
	assert.True(t, found.HasGlobalPermission("gallery.list"))

	assert.NotZero(t, found.CreatedAt)
	assert.Nil(t, found.LastLoginAt)

	require.NoError(t, repo.RecordLogin(ctx, found.ID, 1700000000))
	found, err = repo.GetByID(ctx, found.ID)
	require.NoError(t, err)
	require.NotNil(t, found.LastLoginAt)
	assert.EqualValues(t, 1700000000, *found.LastLoginAt)

	_, err = repo.GetByUsername(ctx, "nobody")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	_, err = repo.GetByID(ctx, 999)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}
