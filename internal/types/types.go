package types

import (
	"time"
)

// GeoPoint is a GeoJSON point; coordinates are [lon, lat]
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewPoint builds a GeoJSON point from a longitude/latitude pair
func NewPoint(lon, lat float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: [2]float64{lon, lat}}
}

// FlightRecord represents a normalized flight-tracking document
type FlightRecord struct {
	ID      string   `json:"id"`
	Hex     string   `json:"hex"`
	Type    string   `json:"type"`
	Flight  string   `json:"flight"`
	R       string   `json:"r"`
	T       string   `json:"t"`
	AltBaro int      `json:"alt_baro"`
	GS      float64  `json:"gs"`
	Track   float64  `json:"track"`
	Lat     float64  `json:"lat"`
	Lon     float64  `json:"lon"`
	Geo     GeoPoint `json:"Geo"`
}

// BlobInfo describes one object returned by blob enumeration
type BlobInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobStatus is the lifecycle state of a blob within a run
type BlobStatus string

const (
	BlobProcessing BlobStatus = "processing"
	BlobDone       BlobStatus = "done"
	BlobFailed     BlobStatus = "failed"
)

// BlobRun summarizes the processing of a single blob
type BlobRun struct {
	RunID      string        `json:"run_id"`
	Blob       string        `json:"blob"`
	Status     BlobStatus    `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed"`
	Lines      uint64        `json:"lines"`
	Fragments  uint64        `json:"fragments"`
	Records    uint64        `json:"records"`
	Malformed  uint64        `json:"malformed"`
	Batches    uint64        `json:"batches"`
	Uploaded   uint64        `json:"uploaded"`
	Error      string        `json:"error,omitempty"`
}

// BatchEvent is published after every successful batch upload, and once
// more with Status set when the blob finishes
type BatchEvent struct {
	RunID     string     `json:"run_id"`
	Blob      string     `json:"blob"`
	Batch     uint64     `json:"batch"`
	Size      int        `json:"size"`
	Final     bool       `json:"final"`
	Status    BlobStatus `json:"status,omitempty"`
	Uploaded  uint64     `json:"uploaded,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Completed reports whether the event closes its blob
func (e *BatchEvent) Completed() bool {
	return e.Status != ""
}
