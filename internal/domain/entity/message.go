package entity

import "github.com/google/uuid"

// ReconstructionMessage is the inbound message from the reconstruction queue.
type ReconstructionMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	UserID    string    `json:"user_id"`
	VideoKey  string    `json:"video_key"`
	FileSize  int64     `json:"file_size"`
	UserEmail string    `json:"user_email"`
	TargetFPS float64   `json:"target_fps,omitempty"`
	MeshName  string    `json:"mesh_name,omitempty"`
}

// ReconstructionStatusMessage is the outbound message published on every
// status change of a job.
type ReconstructionStatusMessage struct {
	JobID         uuid.UUID `json:"job_id"`
	UserID        string    `json:"user_id"`
	Status        JobStatus `json:"status"`
	Stage         Stage     `json:"stage"`
	VideoKey      string    `json:"video_key"`
	MeshKey       string    `json:"mesh_key,omitempty"`
	BundleKey     string    `json:"bundle_key,omitempty"`
	FrameCount    int       `json:"frame_count,omitempty"`
	VertexCount   int       `json:"vertex_count,omitempty"`
	TriangleCount int       `json:"triangle_count,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Attempt       int       `json:"attempt"`
	MaxAttempts   int       `json:"max_attempts"`
}
