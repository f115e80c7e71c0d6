package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

type feedEvent struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Upvotes   int       `json:"upvotes"`
	Comments  int       `json:"comments"`
}

type scoreRequest struct {
	EventID  string `json:"eventId"`
	Platform string `json:"platform"`
	Text     string `json:"text"`
}

var sampleTexts = []string{
	"Wish there was a tool that turned meeting notes into action items automatically",
	"So frustrating that invoice reconciliation is still manual spreadsheet hell",
	"Is there a tool for monitoring LLM prompt costs across providers?",
	"Why is it so hard to sync my calendar with time tracking software",
	"Tired of copy pasting analytics into weekly newsletter reports",
	"Our CI CD pipeline keeps flaking and debugging it wastes hours every week",
}

func main() {
	rand.Seed(time.Now().UnixNano())
	nextID := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		n := 1 + rand.Intn(4)
		events := make([]feedEvent, 0, n)
		for i := 0; i < n; i++ {
			nextID++
			events = append(events, feedEvent{
				ID:        fmt.Sprintf("evt-%d", nextID),
				Platform:  []string{"reddit", "hackernews", "twitter"}[rand.Intn(3)],
				Text:      sampleTexts[rand.Intn(len(sampleTexts))],
				Author:    fmt.Sprintf("user-%d", rand.Intn(50)),
				Timestamp: time.Now().Add(-time.Duration(rand.Intn(30)) * time.Second),
				Upvotes:   rand.Intn(40),
				Comments:  rand.Intn(12),
			})
		}
		writeJSON(w, map[string]any{"events": events})
	})

	mux.HandleFunc("/v1/score", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		keywords := []string{}
		for _, word := range strings.Fields(strings.ToLower(req.Text)) {
			if len(word) > 5 && len(keywords) < 5 {
				keywords = append(keywords, word)
			}
		}
		writeJSON(w, map[string]any{
			"keywords":         keywords,
			"category":         "productivity",
			"opportunityScore": 0.4 + rand.Float64()*0.5,
			"confidence":       0.5 + rand.Float64()*0.4,
		})
	})

	logger := log.New(log.Writer(), "feed-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
