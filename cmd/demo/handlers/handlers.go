package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Response is a generic JSON response structure
type Response struct {
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func write(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Health is not rate limited
func Health(w http.ResponseWriter, r *http.Request) {
	write(w, http.StatusOK, "cellrate demo server is healthy", nil)
}

// Search costs one unit
func Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		query = "all"
	}
	write(w, http.StatusOK, "search", map[string]interface{}{
		"query":   query,
		"results": []string{"result1", "result2", "result3"},
	})
}

// Login has a strict policy to slow down brute force
func Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	write(w, http.StatusOK, "login", map[string]string{"user": "demo-user"})
}

// Export is charged per row through the rows query parameter
func Export(w http.ResponseWriter, r *http.Request) {
	write(w, http.StatusOK, "export", map[string]uint32{"rows": ExportUnits(r)})
}

// ExportUnits is the cost of an export request: one unit per row, at least one
func ExportUnits(r *http.Request) uint32 {
	rows, err := strconv.ParseUint(r.URL.Query().Get("rows"), 10, 32)
	if err != nil || rows == 0 {
		return 1
	}
	return uint32(rows)
}
