package giteestore

import (
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// The contents API sits behind caching layers that keep serving stale
// folder listings and file bodies for tens of seconds after a write.
// Every read carries per-call-unique query parameters and the full set of
// anti-cache request headers; without them the panel shows requests that
// were already handled. This lives in one place so no call site grows its
// own ad hoc variant.

var readSeq atomic.Int64

func freshenQuery(q url.Values) {
	now := time.Now().UnixMilli()
	q.Set("_t", strconv.FormatInt(now, 10))
	q.Set("_r", strconv.FormatInt(readSeq.Add(1), 10))
	q.Set("no_cache", "1")
	q.Set("force_refresh", "1")
	q.Set("v", uuid.NewString())
}

func freshenHeaders(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0, s-maxage=0, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "-1")
	h.Set("If-None-Match", "*")
	h.Set("If-Modified-Since", "Thu, 01 Jan 1970 00:00:00 GMT")
	h.Set("User-Agent", "licpanel/1.0-"+strconv.FormatInt(time.Now().UnixMilli(), 10))
}
