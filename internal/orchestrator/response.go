package orchestrator

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

// Status is the machine-readable tag on every response.
type Status string

const (
	// StatusSuccess means the artifact passed, or the attempt limit was hit.
	StatusSuccess Status = "success"
	// StatusContinue means Result is a regeneration request.
	StatusContinue Status = "continue"
	// StatusError means the attempt could not be evaluated.
	StatusError Status = "error"
)

// Response is returned to the regeneration step for every attempt.
type Response struct {
	Message  Status `json:"message"`
	Result   string `json:"result"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
}

func successResponse(result string) Response {
	return Response{Message: StatusSuccess, Result: result}
}

func errorResponse(result string) Response {
	return Response{Message: StatusError, Result: result}
}

// continueResponse addresses a regeneration request to the provider.
func continueResponse(result string, p models.Provider) Response {
	cfg := p.Config()
	return Response{Message: StatusContinue, Result: result, Model: cfg.Model, Provider: cfg.Name}
}

// failureReport renders failure lines as a JSON array.
func failureReport(lines []string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(lines); err != nil {
		return strings.Join(lines, "\n")
	}
	return strings.TrimRight(buf.String(), "\n")
}
