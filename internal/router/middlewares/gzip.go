package middlewares

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// Gzip compresses responses when the client accepts it. Record listings
// compress an order of magnitude since they're mostly repeated hex strings.
func Gzip(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
