package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxonomyClassification(t *testing.T) {
	cause := stderrors.New("missing className")
	parse := NewParseError("", "bundles/a.vvf", cause)
	load := NewLoadError("subs", "instantiate", cause)
	scan := NewScanError("sideload", cause)

	wrapped := fmt.Errorf("scan: %w", load)

	assert.True(t, IsParse(parse))
	assert.True(t, IsLoad(wrapped))
	assert.True(t, IsScan(scan))
	assert.False(t, IsScan(load))
	assert.Equal(t, "subs", ExtensionIDOf(wrapped))
	assert.Equal(t, "", ExtensionIDOf(cause))
	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, wrapped, &VVFError{Code: CodeLoad})
	assert.Equal(t, "subs: extension failed to load: missing className", load.Error())
}

func TestFromPanicCapturesStack(t *testing.T) {
	var got *VVFError
	func() {
		defer func() {
			if r := recover(); r != nil {
				got = FromPanic("crashy", "construct", r)
			}
		}()
		panic("nil map write")
	}()

	require.NotNil(t, got)
	assert.Equal(t, CodeLoad, got.Code)
	assert.Equal(t, "crashy", got.ExtensionID)

	var p *PanicError
	require.ErrorAs(t, got, &p)
	assert.Equal(t, "nil map write", p.Value)
	assert.NotEmpty(t, p.StackTrace)
	assert.Contains(t, got.Context, "at")
}

func TestToGinResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/extensions/stream/x", nil)

	NewNotFoundError("extension", "x").ToGinResponse(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"NOT_FOUND"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware(), RecoveryMiddleware())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
