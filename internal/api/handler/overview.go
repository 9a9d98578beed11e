package handler

import (
	"net/http"

	"github.com/kiranshivaraju/whisperd/internal/api/response"
)

type overview struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Engine      string   `json:"engine"`
	Endpoints   []string `json:"endpoints"`
}

// NewOverviewHandler returns an http.HandlerFunc for GET / describing the
// service.
func NewOverviewHandler(version, engineName, prefix string) http.HandlerFunc {
	body := overview{
		Name:        "whisperd",
		Description: "Speech transcription jobs with durable per-job status records",
		Version:     version,
		Engine:      engineName,
		Endpoints: []string{
			"POST " + prefix + "/run",
			"POST " + prefix + "/uri",
			"POST " + prefix + "/bytes",
			"GET " + prefix + "/result/{content_id}",
			"GET " + prefix + "/download?file_path=",
			"GET " + prefix + "/health",
		},
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, body)
	}
}
