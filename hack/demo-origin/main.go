package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const indexHTML = `<!doctype html>
<html>
<head>
<link rel="stylesheet" href="/style.css">
<link rel="manifest" href="/manifest.json">
<title>Vibe News</title>
</head>
<body><main id="articles"></main></body>
</html>
`

func main() {
	mux := http.NewServeMux()
	page := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/index.html" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	}
	mux.HandleFunc("/", page)
	mux.HandleFunc("/index.html", page)
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprint(w, "body{font-family:sans-serif;margin:0}\n")
	})
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/manifest+json")
		fmt.Fprint(w, `{"name":"Vibe News","start_url":"/","display":"standalone"}`)
	})
	mux.HandleFunc("/news", func(w http.ResponseWriter, r *http.Request) {
		category := r.URL.Query().Get("category")
		if category == "" {
			category = "general"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"articles": []map[string]string{{
				"title":       "Demo headline (" + category + ")",
				"publishedAt": time.Now().UTC().Format(time.RFC3339),
			}},
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	log.Println("demo-origin listening on :9000")
	log.Fatal(http.ListenAndServe(":9000", mux))
}
