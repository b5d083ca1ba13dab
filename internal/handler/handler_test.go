package handler_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrmark/internal/attendance"
	"qrmark/internal/handler"
	"qrmark/internal/qrlink"
	"qrmark/internal/slot"
	"qrmark/internal/store"
)

const (
	testSecret   = "s3cret"
	testPassword = "hunter2"
	testCID      = "11111111-2222-3333-4444-555555555555"
)

type fixture struct {
	router *gin.Engine
	slots  *slot.Manager
	store  *store.CSVStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	slots := slot.NewManager(filepath.Join(dir, "current_slot.json"), 5*time.Minute)
	st := store.NewCSVStore(filepath.Join(dir, "attendance.csv"), filepath.Join(dir, "archive"))
	svc := attendance.NewService(st, testSecret, true)
	links := qrlink.NewBuilder("http://localhost:8080", testSecret)
	h := handler.New(slots, svc, st, links, testSecret, testPassword)

	r := gin.New()
	r.Use(sessions.Sessions("qrmark_admin", cookie.NewStore([]byte("test-session-key"))))
	r.LoadHTMLGlob(filepath.Join("..", "..", "web", "templates", "*.html"))
	h.Register(r)

	return &fixture{router: r, slots: slots, store: st}
}

func (f *fixture) currentKey(t *testing.T) string {
	t.Helper()
	s, err := f.slots.Current()
	require.NoError(t, err)
	return s.Key
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func postForm(path string, form url.Values, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func submitForm(key, cid, name, email string) url.Values {
	return url.Values{
		"key":   {key},
		"s":     {testSecret},
		"cid":   {cid},
		"name":  {name},
		"email": {email},
	}
}

func TestSubmitAccepted(t *testing.T) {
	f := newFixture(t)
	key := f.currentKey(t)

	w := f.do(postForm("/submit", submitForm(key, testCID, "Ada Lovelace", "ada@example.edu")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Attendance marked")
	require.Len(t, f.store.ReadAll(), 1)
}

func TestSubmitDuplicateDevice(t *testing.T) {
	f := newFixture(t)
	key := f.currentKey(t)

	f.do(postForm("/submit", submitForm(key, testCID, "Ada Lovelace", "ada@example.edu")))
	w := f.do(postForm("/submit", submitForm(key, testCID, "Ada L.", "other@example.edu")))
	assert.Contains(t, w.Body.String(), "already submitted")
	assert.Len(t, f.store.ReadAll(), 1)
}

func TestSubmitStaleKeyRejected(t *testing.T) {
	f := newFixture(t)
	f.currentKey(t)

	w := f.do(postForm("/submit", submitForm("a-key-from-a-rotated-slot-000000", testCID, "Ada", "ada@example.edu")))
	assert.Contains(t, w.Body.String(), "invalid or has expired")
	assert.Empty(t, f.store.ReadAll())
}

func TestIndexInjectsDeviceRedirect(t *testing.T) {
	f := newFixture(t)
	key := f.currentKey(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/?key="+key+"&s="+testSecret, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "attendance_cid")
	assert.Contains(t, w.Body.String(), "Attaching your device id")
}

func TestIndexNoRedirectWhenCIDPresent(t *testing.T) {
	f := newFixture(t)
	key := f.currentKey(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/?key="+key+"&s="+testSecret+"&cid="+testCID, nil))
	assert.NotContains(t, w.Body.String(), "Attaching your device id")
}

func TestQRImage(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/qr.png", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))
}

func adminLogin(t *testing.T, f *fixture) []*http.Cookie {
	t.Helper()
	w := f.do(postForm("/admin/login", url.Values{"password": {testPassword}}))
	require.Equal(t, http.StatusFound, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func getWithCookies(path string, cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestAdminLoginWrongPassword(t *testing.T) {
	f := newFixture(t)

	w := f.do(postForm("/admin/login", url.Values{"password": {"guess"}}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Wrong admin password")
}

func TestAdminConsoleShowsRecordsWithoutCID(t *testing.T) {
	f := newFixture(t)
	key := f.currentKey(t)
	f.do(postForm("/submit", submitForm(key, testCID, "Ada Lovelace", "ada@example.edu")))

	cookies := adminLogin(t, f)
	w := f.do(getWithCookies("/admin", cookies))
	assert.Contains(t, w.Body.String(), "Ada Lovelace")
	assert.NotContains(t, w.Body.String(), testCID)
}

func TestExportCSVRequiresSession(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/admin/export.csv", nil))
	assert.Equal(t, http.StatusFound, w.Code)
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t)
	key := f.currentKey(t)
	f.do(postForm("/submit", submitForm(key, testCID, "Ada Lovelace", "ada@example.edu")))

	cookies := adminLogin(t, f)
	w := f.do(getWithCookies("/admin/export.csv", cookies))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance.csv")
	assert.Contains(t, w.Body.String(), "Ada Lovelace")
	assert.NotContains(t, w.Body.String(), testCID)
}

func TestExportXLSX(t *testing.T) {
	f := newFixture(t)
	key := f.currentKey(t)
	f.do(postForm("/submit", submitForm(key, testCID, "Ada Lovelace", "ada@example.edu")))

	cookies := adminLogin(t, f)
	w := f.do(getWithCookies("/admin/export.xlsx", cookies))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance.xlsx")
}

func TestClearRequiresExactConfirmation(t *testing.T) {
	f := newFixture(t)
	key := f.currentKey(t)
	f.do(postForm("/submit", submitForm(key, testCID, "Ada Lovelace", "ada@example.edu")))
	cookies := adminLogin(t, f)

	// Wrong phrase: store untouched.
	w := f.do(postForm("/admin/clear", url.Values{"confirm": {"clear"}}, cookies...))
	assert.Contains(t, w.Body.String(), "Type CLEAR")
	assert.Len(t, f.store.ReadAll(), 1)

	// Exact phrase: store emptied.
	w = f.do(postForm("/admin/clear", url.Values{"confirm": {"CLEAR"}}, cookies...))
	assert.Contains(t, w.Body.String(), "cleared")
	assert.Empty(t, f.store.ReadAll())
}

func TestClearRequiresSession(t *testing.T) {
	f := newFixture(t)
	key := f.currentKey(t)
	f.do(postForm("/submit", submitForm(key, testCID, "Ada Lovelace", "ada@example.edu")))

	w := f.do(postForm("/admin/clear", url.Values{"confirm": {"CLEAR"}}))
	assert.Contains(t, w.Body.String(), "Enter the admin password first")
	assert.Len(t, f.store.ReadAll(), 1)
}

func TestArchiveFlow(t *testing.T) {
	f := newFixture(t)
	key := f.currentKey(t)
	f.do(postForm("/submit", submitForm(key, testCID, "Ada Lovelace", "ada@example.edu")))
	cookies := adminLogin(t, f)

	w := f.do(postForm("/admin/archive", url.Values{"confirm": {"ARCHIVE"}}, cookies...))
	assert.Contains(t, w.Body.String(), "Archived to:")
	assert.Empty(t, f.store.ReadAll())
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}
