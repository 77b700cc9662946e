package domain

import (
	"encoding/json"
	"time"
)

// MediaFile is a recorded answer wrapped with its filename.
type MediaFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadHandle identifies an object written by a storage backend.
type UploadHandle struct {
	Bucket string
	Path   string
	Size   int64
}

// Evaluation is the typed subset of the analysis result the service reads.
// The full payload is kept as raw JSON on the job.
type Evaluation struct {
	AggregateScore       float64 `json:"aggregateScore"`
	Transcript           string  `json:"transcript"`
	OverallSentiment     string  `json:"overallSentiment"`
	OverallFacialEmotion string  `json:"overallFacialEmotion"`
	IsStructured         int     `json:"isStructured"`
	PredictionScore      float64 `json:"predictionScore"`
	CompetencyFeedback   struct {
		OverallScore       float64  `json:"overall_score"`
		Summary            string   `json:"summary"`
		KeyRecommendations []string `json:"key_recommendations"`
	} `json:"competencyFeedback"`
}

// DecodeEvaluation accepts both {"evaluation":{...}} and a bare evaluation object.
func DecodeEvaluation(raw json.RawMessage) (Evaluation, error) {
	var wrapped struct {
		Evaluation *Evaluation `json:"evaluation"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return Evaluation{}, err
	}
	if wrapped.Evaluation != nil {
		return *wrapped.Evaluation, nil
	}

	var bare Evaluation
	if err := json.Unmarshal(raw, &bare); err != nil {
		return Evaluation{}, err
	}
	return bare, nil
}

type EventKind string

const (
	EventKindJob        EventKind = "job"
	EventKindSession    EventKind = "session"
	EventKindTranscript EventKind = "transcript"
)

// Event is the envelope published on the event bus.
type Event struct {
	Kind       EventKind        `json:"kind"`
	UserID     string           `json:"user_id"`
	Job        *Job             `json:"job,omitempty"`
	Session    *SessionSnapshot `json:"session,omitempty"`
	Transcript *TranscriptLine  `json:"transcript,omitempty"`
	At         time.Time        `json:"at"`
}
