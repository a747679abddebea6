package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// GzipRequestMiddleware transparently inflates request bodies sent with
// Content-Encoding gzip (or x-gzip). A body that is not valid gzip is
// rejected with 400 before the handler runs.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body").SetInternal(err)
			}
			req.Body = inflatedBody{zr: zr, raw: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		switch strings.ToLower(strings.TrimSpace(enc)) {
		case "gzip", "x-gzip":
			return true
		}
	}
	return false
}

// inflatedBody closes both the gzip stream and the underlying request body.
type inflatedBody struct {
	zr  *gzip.Reader
	raw io.ReadCloser
}

func (b inflatedBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b inflatedBody) Close() error {
	return errors.Join(b.zr.Close(), b.raw.Close())
}

// SonicSerializer renders and binds JSON with sonic instead of encoding/json.
type SonicSerializer struct{}

func (SonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (SonicSerializer) Deserialize(c echo.Context, i any) error {
	if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
