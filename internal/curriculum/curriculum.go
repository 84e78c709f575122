// Package curriculum turns ranked resources and a set of constraints into a
// time-boxed workshop: which resources to use and when.
package curriculum

import (
	"errors"

	"github.com/kalambet/ethika/internal/resource"
)

// ErrInvalidRequest is returned for a request without a positive duration.
var ErrInvalidRequest = errors.New("invalid curriculum request")

// Request describes the workshop to assemble.
type Request struct {
	Institution        string   `json:"institution"`
	TargetAudience     []string `json:"target_audience"`
	Topics             []string `json:"topics"`
	DurationHours      float64  `json:"duration_hours"`
	PreferredTypes     []string `json:"preferred_types,omitempty"`
	LearningObjectives []string `json:"learning_objectives,omitempty"`
	InstitutionContext string   `json:"institution_context,omitempty"`
	ResourcesPerTopic  int      `json:"resources_per_topic,omitempty"`
}

// ScheduleBlock is one slot of the agenda. Offsets and durations are in
// minutes from the start of the workshop.
type ScheduleBlock struct {
	StartOffsetMinutes float64 `json:"start_offset_minutes"`
	DurationMinutes    float64 `json:"duration_minutes"`
	ResourceID         string  `json:"resource_id"`
	Title              string  `json:"title"`
}

// Curriculum is an assembled workshop. Schedule durations never sum to more
// than DurationHours*60 and blocks are sorted and non-overlapping.
type Curriculum struct {
	Institution    string              `json:"institution"`
	TargetAudience []string            `json:"target_audience"`
	Topics         []string            `json:"topics"`
	DurationHours  float64             `json:"duration_hours"`
	Resources      []resource.Resource `json:"resources"`
	Schedule       []ScheduleBlock     `json:"schedule"`
	Detailed       *DetailedPlan       `json:"detailed_content,omitempty"`
}

// DetailedPlan is the full workshop write-up produced for advanced requests.
type DetailedPlan struct {
	Overview           string     `json:"overview"`
	LearningObjectives []string   `json:"learning_objectives"`
	Schedule           []PlanItem `json:"schedule"`
	Activities         []Activity `json:"activities"`
	Assessment         Assessment `json:"assessment"`
	MaterialsNeeded    []string   `json:"materials_needed"`
	Notes              string     `json:"notes"`
	LLMUsed            bool       `json:"llm_used"`
}

type PlanItem struct {
	Time        string `json:"time"`
	Activity    string `json:"activity"`
	Description string `json:"description"`
	Resource    string `json:"resource"`
}

type Activity struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	DurationMinutes float64  `json:"duration_minutes"`
	Materials       []string `json:"materials"`
	Instructions    string   `json:"instructions"`
}

type Assessment struct {
	Formative []string `json:"formative"`
	Summative string   `json:"summative"`
}
