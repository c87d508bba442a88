package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"offlinegate/internal/logging"
	"offlinegate/internal/metrics"
	"offlinegate/internal/upstream"
)

// emptyArticles is the offline answer of the news API.
var emptyArticles = mustMarshal(struct {
	Articles []any `json:"articles"`
}{Articles: []any{}})

// API is network-first for the news API. Responses are never cached; a
// network failure yields an empty article collection.
type API struct {
	Fetcher upstream.Fetcher
	Logger  logging.Logger
}

func (a *API) Respond(ctx context.Context, req *http.Request) (Result, error) {
	resp, err := a.Fetcher.Fetch(ctx, req)
	if err == nil {
		return Result{Response: resp, Source: SourceNetwork}, nil
	}

	metrics.IncFallback("api")
	a.Logger.Info("serving empty articles", "path", req.URL.Path, "error", err)
	return Result{Response: EmptyArticles(req), Source: SourceFallback}, nil
}

// EmptyArticles builds the `{"articles":[]}` response answering req.
func EmptyArticles(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(emptyArticles)))
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(emptyArticles)),
		ContentLength: int64(len(emptyArticles)),
		Request:       req,
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
