package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"framefeed.com/pkg/common"
	"framefeed.com/pkg/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() { gin.SetMode(gin.TestMode) }

func do(r http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReqId(t *testing.T) {
	r := gin.New()
	r.Use(ReqId())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, common.RequestIDFromGin(c)) })

	w := do(r, "/x", map[string]string{common.HeaderRequestID: "rid-1"})
	assert.Equal(t, "rid-1", w.Body.String())
	assert.Equal(t, "rid-1", w.Header().Get(common.HeaderRequestID))

	w = do(r, "/x", nil)
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(common.HeaderRequestID))
}

func TestRecover(t *testing.T) {
	r := gin.New()
	r.Use(ReqId(), Recover())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := do(r, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, common.BizInternalError, resp.Code)
	assert.Nil(t, resp.Data)
}

func TestRateLimit(t *testing.T) {
	store := ratelimit.NewStore(rate.Limit(0.001), 1, 0)
	r := gin.New()
	r.Use(RateLimit("test", store))
	r.GET("/x", func(c *gin.Context) { common.Success(c, "ok") })

	assert.Equal(t, http.StatusOK, do(r, "/x", nil).Code)
	w := do(r, "/x", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, common.BizTooManyRequests, resp.Code)
}
