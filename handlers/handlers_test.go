package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
	"gorm.io/gorm/logger"

	"github.com/camden-git/gallerydelivery/credentials"
	"github.com/camden-git/gallerydelivery/database"
	"github.com/camden-git/gallerydelivery/media"
	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/permissions"
	"github.com/camden-git/gallerydelivery/realtime"
	"github.com/camden-git/gallerydelivery/repository"
	"github.com/camden-git/gallerydelivery/services"
	"github.com/camden-git/gallerydelivery/workers"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	users   repository.UserRepository
	actions *repository.ActionRepository
	admin   string
}

type serverOptions struct {
	wrapStore      func(media.Store) media.Store
	workers        int
	requestTimeout time.Duration
	uploadTimeout  time.Duration
}

// slowStore delays every Put, giving up when the caller's context ends first. reads of
// opened objects stall for readDelay before the first byte.
type slowStore struct {
	media.Store
	delay     time.Duration
	readDelay time.Duration
}

func (s slowStore) Open(ctx context.Context, key string) (io.ReadCloser, media.ObjectInfo, error) {
	body, info, err := s.Store.Open(ctx, key)
	if err != nil || s.readDelay <= 0 {
		return body, info, err
	}
	return &stalledReader{ReadCloser: body, delay: s.readDelay}, info, nil
}

type stalledReader struct {
	io.ReadCloser
	delay   time.Duration
	started bool
}

func (r *stalledReader) Read(p []byte) (int, error) {
	if !r.started {
		r.started = true
		time.Sleep(r.delay)
	}
	return r.ReadCloser.Read(p)
}

func (s slowStore) Put(ctx context.Context, key, contentType string, data io.Reader) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Store.Put(ctx, key, contentType, data)
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWith(t, serverOptions{})
}

func newTestServerWith(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	ctx := context.Background()
	if opts.workers <= 0 {
		opts.workers = 2
	}

	db, err := database.InitGormDB(filepath.Join(t.TempDir(), "http.db"), 1, logger.Silent)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)

	bucket := memblob.OpenBucket(nil)
	var store media.Store = media.NewBucketStorage(bucket)
	if opts.wrapStore != nil {
		store = opts.wrapStore(store)
	}
	processor := media.NewProcessor(store, media.DerivativeSpec{MaxSize: 64, Quality: 80}, media.DerivativeSpec{MaxSize: 16, Quality: 80})

	galleries := repository.NewGalleryRepository(db)
	images := repository.NewImageRepository(db)
	visitors := repository.NewVisitorRepository(db)
	actions := repository.NewActionRepository(db)
	stats := repository.NewDailyStatRepository(db)
	users := repository.NewGormUserRepository(db)

	hubCtx, stopHub := context.WithCancel(ctx)
	hub := realtime.NewHub([]string{"*"})
	go hub.Run(hubCtx)

	signer, err := credentials.NewSigner("visitor-secret", time.Hour)
	require.NoError(t, err)
	pipeline := services.NewDerivativePipeline(galleries, images, processor, "/media", hub)
	pool := workers.NewDerivativePool(pipeline, 8, opts.workers)

	t.Cleanup(func() {
		pool.Stop()
		stopHub()
		bucket.Close()
		sqlDB.Close()
	})

	require.NoError(t, BootstrapAdmin(ctx, users, "studio", "correct horse"))
	limited := &models.User{Username: "assistant", GlobalPermissions: []string{permissions.GalleryList}}
	require.NoError(t, limited.SetPassword("assistant-pass"))
	require.NoError(t, users.Create(ctx, limited))

	handler := NewRouter(RouterDeps{
		Users:           users,
		Catalog:         services.NewCatalog(galleries, images, actions, services.CatalogOptions{StoreTimeout: time.Second, PublicMediaURL: "/media"}),
		Issuer:          credentials.NewIssuer(galleries, visitors, signer),
		Verifier:        credentials.NewVerifier(signer, visitors, time.Second),
		Exporter:        services.NewArchiveExporter(images, actions, store, 2, 2),
		Galleries:       services.NewGalleryService(galleries, images, visitors, pipeline),
		Analytics:       services.NewAnalytics(sqlDB, galleries, images, stats, 30, 10),
		Pool:            pool,
		Store:           store,
		Hub:             hub,
		AdminSecret:     "admin-secret",
		AdminSessionTTL: time.Hour,
		MaxUploadBytes:  8 << 20,
		UploadTimeout:   opts.uploadTimeout,
		RequestTimeout:  opts.requestTimeout,
		PublicSiteURL:   "https://photos.example",
		AuthRateLimit:   1000,
		AllowedOrigins:  []string{"*"},
	})

	s := &testServer{t: t, handler: handler, users: users, actions: actions}
	s.admin = s.login("studio", "correct horse")
	return s
}

func (s *testServer) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(s.t, err)
		body = bytes.NewReader(raw)
	}
	return s.do(method, path, token, body, "application/json")
}

func (s *testServer) login(username, password string) string {
	s.t.Helper()
	rec := s.doJSON(http.MethodPost, "/admin/login", "", map[string]string{"username": username, "password": password})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func (s *testServer) createGallery(payload map[string]interface{}) services.GalleryDetail {
	s.t.Helper()
	rec := s.doJSON(http.MethodPost, "/admin/galleries", s.admin, payload)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var detail services.GalleryDetail
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &detail))
	return detail
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.RGBA{B: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type uploadFile struct {
	name        string
	contentType string
	data        []byte
}

func (s *testServer) upload(galleryID uint, files ...uploadFile) *httptest.ResponseRecorder {
	s.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, f.name))
		header.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(header)
		require.NoError(s.t, err)
		_, err = part.Write(f.data)
		require.NoError(s.t, err)
	}
	require.NoError(s.t, mw.Close())
	return s.do(http.MethodPost, fmt.Sprintf("/admin/galleries/%d/upload", galleryID), s.admin, &body, mw.FormDataContentType())
}

func (s *testServer) uploadImages(galleryID uint, names ...string) {
	s.t.Helper()
	files := make([]uploadFile, 0, len(names))
	for _, name := range names {
		files = append(files, uploadFile{name: name, contentType: "image/png", data: pngBytes(s.t, 40, 30)})
	}
	rec := s.upload(galleryID, files...)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) authenticate(slug, email, password string) *httptest.ResponseRecorder {
	s.t.Helper()
	payload := map[string]string{"email": email}
	if password != "" {
		payload["password"] = password
	}
	return s.doJSON(http.MethodPost, "/public/galleries/"+slug+"/auth", "", payload)
}

func (s *testServer) token(slug, email, password string) string {
	s.t.Helper()
	rec := s.authenticate(slug, email, password)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp authResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(s.t, resp.Token)
	return resp.Token
}

func decodeErrors(t *testing.T, rec *httptest.ResponseRecorder) []APIErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	require.NotEmpty(t, resp.Errors)
	return resp.Errors
}

func TestSmithWeddingScenario(t *testing.T) {
	s := newTestServer(t)
	g := s.createGallery(map[string]interface{}{"slug": "smith-wedding", "title": "Smith Wedding", "password": "xyz123", "isPublic": true})
	s.uploadImages(g.ID, "IMG_2.png", "IMG_10.png", "IMG_1.png")

	rec := s.do(http.MethodGet, "/public/galleries/smith-wedding", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, true, meta["isPasswordProtected"])
	assert.NotContains(t, meta, "passwordHash")
	assert.NotEmpty(t, meta["coverImageUrl"])

	rec = s.authenticate("smith-wedding", "a@b.com", "wrong")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTHENTICATION_FAILED", decodeErrors(t, rec)[0].Code)

	token := s.token("smith-wedding", "a@b.com", "xyz123")

	rec = s.do(http.MethodGet, "/public/galleries/smith-wedding/images", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var images []services.CatalogImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	require.Len(t, images, 3)
	assert.Equal(t, "IMG_1.png", images[0].Filename)
	assert.Equal(t, "IMG_2.png", images[1].Filename)
	assert.Equal(t, "IMG_10.png", images[2].Filename)
	assert.True(t, strings.HasPrefix(images[0].DisplayURL, "/media/galleries/"))

	rec = s.do(http.MethodGet, "/public/galleries/smith-wedding/images", "", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeErrors(t, rec)[0].Code)

	rec = s.do(http.MethodGet, images[0].ThumbnailURL, "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")
}

func TestAuthValidationAndUnknownGallery(t *testing.T) {
	s := newTestServer(t)
	s.createGallery(map[string]interface{}{"slug": "open-day", "title": "Open Day", "isPublic": true})

	rec := s.doJSON(http.MethodPost, "/public/galleries/open-day/auth", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decodeErrors(t, rec)
	assert.Equal(t, "email", errs[0].Field)
	assert.Equal(t, "VALIDATION_FAILED", errs[0].Code)

	rec = s.authenticate("no-such-gallery", "a@b.com", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.authenticate("open-day", "a@b.com", "")
	assert.Equal(t, http.StatusOK, rec.Code, "galleries without a password only need an email")
}

func TestCrossGalleryTokenIsRejected(t *testing.T) {
	s := newTestServer(t)
	a := s.createGallery(map[string]interface{}{"slug": "gallery-a", "title": "A", "isPublic": true})
	b := s.createGallery(map[string]interface{}{"slug": "gallery-b", "title": "B", "isPublic": true})
	s.uploadImages(a.ID, "a.png")
	s.uploadImages(b.ID, "b.png")

	tokenA := s.token("gallery-a", "v@example.com", "")

	for _, path := range []string{"/public/galleries/gallery-b/images", "/public/galleries/gallery-b/download"} {
		rec := s.do(http.MethodGet, path, tokenA, nil, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "Invalid token for this gallery", decodeErrors(t, rec)[0].Detail)
	}

	tokenB := s.token("gallery-b", "v@example.com", "")
	rec := s.do(http.MethodGet, "/public/galleries/gallery-b/images", tokenB, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var images []services.CatalogImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	require.Len(t, images, 1)

	rec = s.do(http.MethodPost, fmt.Sprintf("/public/images/%d/favorite", images[0].ID), tokenA, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/public/galleries/gallery-a/images", "not-a-token", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeErrors(t, rec)[0].Code)
}

func TestFavoriteToggleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	g := s.createGallery(map[string]interface{}{"slug": "faves", "title": "Faves", "isPublic": true})
	s.uploadImages(g.ID, "a.png", "b.png")
	token := s.token("faves", "v@example.com", "")

	rec := s.do(http.MethodGet, "/public/galleries/faves/images", token, nil, "")
	var images []services.CatalogImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	path := fmt.Sprintf("/public/images/%d/favorite", images[1].ID)

	for i, want := range []bool{true, false, true} {
		rec := s.do(http.MethodPost, path, token, nil, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp favoriteResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, want, resp.IsFavorite, "toggle %d", i+1)
	}

	rec = s.do(http.MethodGet, "/public/galleries/faves/images", token, nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	assert.False(t, images[0].IsFavorite)
	assert.True(t, images[1].IsFavorite)

	rec = s.do(http.MethodPost, fmt.Sprintf("/public/images/%d/view", images[0].ID), token, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodPost, "/public/images/999999/favorite", token, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodPost, path, "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestArchiveDownload(t *testing.T) {
	s := newTestServer(t)
	g := s.createGallery(map[string]interface{}{"slug": "zip-me", "title": "Zip", "isPublic": true})
	s.uploadImages(g.ID, "one.png", "two.png", "three.png")
	token := s.token("zip-me", "v@example.com", "")

	rec := s.do(http.MethodGet, "/public/galleries/zip-me/download", token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="zip-me.zip"`, rec.Header().Get("Content-Disposition"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	assert.Len(t, zr.File, 3)

	count, err := s.actions.CountByKind(context.Background(), g.ID, models.ActionDownload)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	rec = s.doJSON(http.MethodGet, fmt.Sprintf("/admin/analytics/galleries/%d", g.ID), s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary services.AnalyticsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.EqualValues(t, 3, summary.Downloads)
	assert.EqualValues(t, 1, summary.UniqueVisitors)
	assert.Len(t, summary.Daily, 30)
	assert.Len(t, summary.TopImages, 3)
}

func TestArchiveDownloadRefusals(t *testing.T) {
	s := newTestServer(t)
	locked := s.createGallery(map[string]interface{}{"slug": "locked", "title": "Locked", "downloadEnabled": false})
	s.uploadImages(locked.ID, "a.png")
	s.createGallery(map[string]interface{}{"slug": "empty", "title": "Empty"})

	rec := s.do(http.MethodGet, "/public/galleries/locked/download", s.token("locked", "v@example.com", ""), nil, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotEqual(t, "application/zip", rec.Header().Get("Content-Type"))

	rec = s.do(http.MethodGet, "/public/galleries/empty/download", s.token("empty", "v@example.com", ""), nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "GALLERY_EMPTY", decodeErrors(t, rec)[0].Code)
}

func TestSingleImageDownload(t *testing.T) {
	s := newTestServer(t)
	g := s.createGallery(map[string]interface{}{"slug": "single", "title": "Single"})
	s.uploadImages(g.ID, "portrait.png")
	token := s.token("single", "v@example.com", "")

	rec := s.do(http.MethodGet, "/public/galleries/single/images", token, nil, "")
	var images []services.CatalogImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))

	rec = s.do(http.MethodGet, fmt.Sprintf("/public/images/%d/download", images[0].ID), token, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="portrait.png"`, rec.Header().Get("Content-Disposition"))
	assert.NotZero(t, rec.Body.Len())
}

func TestUploadRejectsUnsupportedFiles(t *testing.T) {
	s := newTestServer(t)
	g := s.createGallery(map[string]interface{}{"slug": "uploads", "title": "Uploads"})

	rec := s.upload(g.ID, uploadFile{name: "notes.txt", contentType: "text/plain", data: []byte("hello")})
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = s.upload(g.ID,
		uploadFile{name: "ok.png", contentType: "image/png", data: pngBytes(t, 10, 10)},
		uploadFile{name: "notes.txt", contentType: "text/plain", data: []byte("hello")},
	)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Uploaded)
	assert.Equal(t, 1, resp.Failed)
	for _, result := range resp.Results {
		if result.Filename == "notes.txt" {
			require.NotNil(t, result.Error)
			assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", result.Error.Code)
		} else {
			assert.Nil(t, result.Error)
			require.NotNil(t, result.Image)
		}
	}

	rec = s.upload(9999, uploadFile{name: "ok.png", contentType: "image/png", data: pngBytes(t, 10, 10)})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminGalleryLifecycle(t *testing.T) {
	s := newTestServer(t)
	g := s.createGallery(map[string]interface{}{"slug": "life-cycle", "title": "Life"})
	assert.True(t, g.DownloadEnabled)
	assert.False(t, g.IsPasswordProtected)

	rec := s.doJSON(http.MethodPost, "/admin/galleries", s.admin, map[string]interface{}{"slug": "life-cycle", "title": "Dup"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.doJSON(http.MethodPost, "/admin/galleries", s.admin, map[string]interface{}{"slug": "Not A Slug", "title": "Bad"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "slug", decodeErrors(t, rec)[0].Field)

	rec = s.doJSON(http.MethodPut, fmt.Sprintf("/admin/galleries/%d", g.ID), s.admin, map[string]interface{}{"title": "Renamed", "password": "s3cret!"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated services.GalleryDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Renamed", updated.Title)
	assert.True(t, updated.IsPasswordProtected)

	s.uploadImages(g.ID, "a.png")
	token := s.token("life-cycle", "v@example.com", "s3cret!")

	rec = s.doJSON(http.MethodGet, fmt.Sprintf("/admin/galleries/%d/visitors", g.ID), s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var visitors []models.Visitor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &visitors))
	require.Len(t, visitors, 1)
	assert.NotContains(t, rec.Body.String(), "accessToken")

	rec = s.doJSON(http.MethodPost, fmt.Sprintf("/admin/galleries/%d/visitors/%d/revoke", g.ID, visitors[0].ID), s.admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/public/galleries/life-cycle/images", token, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "revoked credentials stop verifying")

	rec = s.doJSON(http.MethodGet, fmt.Sprintf("/admin/galleries/%d/qrcode", g.ID), s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = s.doJSON(http.MethodGet, fmt.Sprintf("/admin/galleries/%d/images", g.ID), s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var images []models.Image
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	require.Len(t, images, 1)

	rec = s.doJSON(http.MethodDelete, fmt.Sprintf("/admin/galleries/%d/images/%d", g.ID, images[0].ID), s.admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, images[0].DisplayURL, "", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.doJSON(http.MethodPost, fmt.Sprintf("/admin/analytics/galleries/%d/rebuild", g.ID), s.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.doJSON(http.MethodDelete, fmt.Sprintf("/admin/galleries/%d", g.ID), s.admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.doJSON(http.MethodGet, fmt.Sprintf("/admin/galleries/%d", g.ID), s.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodGet, "/public/galleries/life-cycle", "", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicListingHidesPrivateAndExpired(t *testing.T) {
	s := newTestServer(t)
	s.createGallery(map[string]interface{}{"slug": "visible", "title": "Visible", "isPublic": true})
	s.createGallery(map[string]interface{}{"slug": "private", "title": "Private"})
	s.createGallery(map[string]interface{}{"slug": "expired", "title": "Expired", "isPublic": true, "expiresAt": time.Now().Add(-time.Hour).Unix()})

	rec := s.do(http.MethodGet, "/public/galleries", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing []services.PublicGallery
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing, 1)
	assert.Equal(t, "visible", listing[0].Slug)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/public/galleries/private", "", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/public/galleries/expired", "", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, s.authenticate("expired", "v@example.com", "").Code)
}

func TestAdminAuthAndPermissions(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(http.MethodGet, "/admin/galleries", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.doJSON(http.MethodGet, "/admin/galleries", "forged.token.value", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.doJSON(http.MethodPost, "/admin/login", "", map[string]string{"username": "studio", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assistant := s.login("assistant", "assistant-pass")
	rec = s.doJSON(http.MethodGet, "/admin/galleries", assistant, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.doJSON(http.MethodPost, "/admin/galleries", assistant, map[string]interface{}{"slug": "nope", "title": "Nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.doJSON(http.MethodGet, "/admin/me", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "studio", me.Username)
	assert.ElementsMatch(t, permissions.GetAllPermissionKeys(), me.GlobalPermissions)

	rec = s.doJSON(http.MethodGet, "/admin/permissions", s.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.doJSON(http.MethodGet, "/admin/permissions/keys", assistant, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var keys map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	assert.Equal(t, []string{permissions.GalleryList}, keys["granted"])
	assert.Len(t, keys["all"], len(permissions.GetAllPermissionKeys()))

	visitorToken := s.tokenFor(t)
	rec = s.doJSON(http.MethodGet, "/admin/galleries", visitorToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "visitor credentials are not admin sessions")
}

func (s *testServer) tokenFor(t *testing.T) string {
	t.Helper()
	s.createGallery(map[string]interface{}{"slug": "visitor-only", "title": "V"})
	return s.token("visitor-only", "v@example.com", "")
}

func TestBootstrapAdminIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, BootstrapAdmin(ctx, s.users, "another", "password"))
	_, err := s.users.GetByUsername(ctx, "another")
	assert.Error(t, err)
}

func TestUploadBatchOutlivesRequestTimeout(t *testing.T) {
	s := newTestServerWith(t, serverOptions{
		wrapStore:      func(st media.Store) media.Store { return slowStore{Store: st, delay: 50 * time.Millisecond} },
		workers:        1,
		requestTimeout: 300 * time.Millisecond,
	})
	g := s.createGallery(map[string]interface{}{"slug": "big-shoot", "title": "Big Shoot"})

	// three artifacts per image through one worker take well past the route timeout
	start := time.Now()
	rec := s.upload(g.ID,
		uploadFile{name: "IMG_1.png", contentType: "image/png", data: pngBytes(t, 20, 20)},
		uploadFile{name: "IMG_2.png", contentType: "image/png", data: pngBytes(t, 20, 20)},
		uploadFile{name: "IMG_3.png", contentType: "image/png", data: pngBytes(t, 20, 20)},
	)
	require.Greater(t, time.Since(start), 300*time.Millisecond)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Uploaded)
	assert.Zero(t, resp.Failed)

	rec = s.doJSON(http.MethodGet, fmt.Sprintf("/admin/galleries/%d/images", g.ID), s.admin, nil)
	var images []models.Image
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	assert.Len(t, images, 3)
}

func TestUploadBatchDeadlineReportsTimeout(t *testing.T) {
	s := newTestServerWith(t, serverOptions{
		wrapStore:     func(st media.Store) media.Store { return slowStore{Store: st, delay: 100 * time.Millisecond} },
		workers:       1,
		uploadTimeout: 150 * time.Millisecond,
	})
	g := s.createGallery(map[string]interface{}{"slug": "late-shoot", "title": "Late Shoot"})

	rec := s.upload(g.ID,
		uploadFile{name: "IMG_1.png", contentType: "image/png", data: pngBytes(t, 20, 20)},
		uploadFile{name: "IMG_2.png", contentType: "image/png", data: pngBytes(t, 20, 20)},
	)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
	assert.Equal(t, "TIMEOUT", decodeErrors(t, rec)[0].Code)

	rec = s.doJSON(http.MethodGet, fmt.Sprintf("/admin/galleries/%d/images", g.ID), s.admin, nil)
	var images []models.Image
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	assert.Empty(t, images)
}

func TestSingleImageDownloadOutlivesWriteTimeout(t *testing.T) {
	s := newTestServerWith(t, serverOptions{
		wrapStore: func(st media.Store) media.Store { return slowStore{Store: st, readDelay: 300 * time.Millisecond} },
	})
	g := s.createGallery(map[string]interface{}{"slug": "slow-link", "title": "Slow"})
	s.uploadImages(g.ID, "portrait.png")
	token := s.token("slow-link", "v@example.com", "")

	rec := s.do(http.MethodGet, "/public/galleries/slow-link/images", token, nil, "")
	var images []services.CatalogImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	require.Len(t, images, 1)
	display := s.do(http.MethodGet, images[0].DisplayURL, "", nil, "")
	require.Equal(t, http.StatusOK, display.Code)

	srv := httptest.NewUnstartedServer(s.handler)
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/public/images/%d/download", srv.URL, images[0].ID), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, display.Body.Bytes(), body)
}

func TestHealthzReportsRealtimeClients(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 0, health["realtimeClients"])
}
