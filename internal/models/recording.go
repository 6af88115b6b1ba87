package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus represents recording lifecycle.
const (
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusFailed     = "failed"
)

const (
	// PlaceholderTitle is assigned at upload time and replaced by the first generated title.
	PlaceholderTitle = "Posnetek"
	// DefaultLanguage is the transcription and summary language of this deployment.
	DefaultLanguage = "sl"
	// MaxTitleLength caps generated titles, in characters.
	MaxTitleLength = 60
)

// Recording is one uploaded audio clip and its derived artifacts.
type Recording struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Title          string    `json:"title"`
	Duration       int       `json:"duration"`
	R2Key          string    `json:"r2_key"`
	Transcript     string    `json:"transcript"`
	TranscriptBody *string   `json:"transcript_body"`
	Summary        string    `json:"summary"`
	Status         string    `json:"status"`
	Language       string    `json:"language"`
	ClientCompany  *string   `json:"client_company"`
	ClientPerson   *string   `json:"client_person"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasPlaceholderTitle reports whether the title may be replaced by a generated one.
func (r *Recording) HasPlaceholderTitle() bool {
	return r.Title == "" || r.Title == PlaceholderTitle
}

// RecordingPatch is a partial update. Nil fields are left untouched.
// ClientCompany and ClientPerson are written (including NULL) only when SetClientFields is true.
type RecordingPatch struct {
	Title           *string
	Transcript      *string
	TranscriptBody  *string
	Summary         *string
	Status          *string
	Language        *string
	SetClientFields bool
	ClientCompany   *string
	ClientPerson    *string
}

// Empty reports whether the patch changes nothing.
func (p RecordingPatch) Empty() bool {
	return p.Title == nil && p.Transcript == nil && p.TranscriptBody == nil && p.Summary == nil &&
		p.Status == nil && p.Language == nil && !p.SetClientFields
}
