package models

import (
	"encoding/json"
	"time"
)

// FetchStatus is the outcome of one endpoint call
type FetchStatus string

const (
	FetchStatusOK     FetchStatus = "ok"
	FetchStatusFailed FetchStatus = "failed"
)

// FetchResult records what happened to one EndpointDescriptor during a batch.
type FetchResult struct {
	Name        string        `json:"name"`
	Endpoint    string        `json:"endpoint"`
	Status      FetchStatus   `json:"status"`
	StatusCode  int           `json:"status_code,omitempty"`
	ArtifactKey string        `json:"artifact_key,omitempty"`
	Location    string        `json:"location,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// OK reports whether the call succeeded and its artifact was persisted
func (r FetchResult) OK() bool {
	return r.Status == FetchStatusOK
}

// FetchReport is the ordered mapping from descriptor name to its result.
type FetchReport struct {
	Results []FetchResult `json:"results"`
}

// Add appends a result, keeping descriptor order
func (r *FetchReport) Add(result FetchResult) {
	r.Results = append(r.Results, result)
}

// Get returns the result recorded for name
func (r *FetchReport) Get(name string) (FetchResult, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return FetchResult{}, false
}

// Len is the number of recorded results
func (r *FetchReport) Len() int {
	return len(r.Results)
}

// Succeeded counts ok results
func (r *FetchReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed counts failed results
func (r *FetchReport) Failed() int {
	return r.Len() - r.Succeeded()
}

// ArtifactEnvelope wraps a fetched payload with call metadata before persisting.
type ArtifactEnvelope struct {
	Timestamp string          `json:"timestamp"`
	Method    string          `json:"method"`
	Endpoint  string          `json:"endpoint"`
	URL       string          `json:"url"`
	Data      json.RawMessage `json:"data"`
}
