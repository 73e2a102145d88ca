package handler

import (
	"math"
	"time"

	"herdbook/internal/identity/models"
	id "herdbook/pkg/domain"
)

// IdentifyRequest carries an embedding produced by the external encoder.
type IdentifyRequest struct {
	Embedding []float32 `json:"embedding"`
}

// RegisterRequest mirrors the registration form: embedding, owner details and
// an optional muzzle photo. Image is base64 in JSON.
type RegisterRequest struct {
	Embedding []float32         `json:"embedding"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Image     []byte            `json:"image,omitempty"`
}

// RecordResponse describes a stored record. Image bytes (base64 in JSON) are
// only returned by the record lookup; match responses carry HasImage alone.
type RecordResponse struct {
	ID        id.RecordID       `json:"id"`
	Metadata  map[string]string `json:"metadata"`
	HasImage  bool              `json:"has_image"`
	Image     []byte            `json:"image,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type IdentifyResponse struct {
	Matched      bool            `json:"matched"`
	Record       *RecordResponse `json:"record,omitempty"`
	Score        float64         `json:"score,omitempty"`
	ScorePercent float64         `json:"score_percent,omitempty"`
}

type RegisterResponse struct {
	Status       models.RegistrationStatus `json:"status"`
	Record       RecordResponse            `json:"record"`
	Score        float64                   `json:"score,omitempty"`
	ScorePercent float64                   `json:"score_percent,omitempty"`
}

func toRecordResponse(r models.Record) RecordResponse {
	md := map[string]string(r.Metadata)
	if md == nil {
		md = map[string]string{}
	}
	return RecordResponse{
		ID:        r.ID,
		Metadata:  md,
		HasImage:  len(r.Image) > 0,
		CreatedAt: r.CreatedAt,
	}
}

func toRecordDetail(r models.Record) RecordResponse {
	resp := toRecordResponse(r)
	resp.Image = r.Image
	return resp
}

// percent renders a score as the percentage shown to operators, two decimals.
func percent(score float64) float64 {
	return math.Round(score*10000) / 100
}
