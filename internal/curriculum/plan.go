package curriculum

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/ethika/internal/resource"
)

const planPreviewRunes = 200

var (
	defaultActivityMaterials = []string{"Computer/Tablet", "Internet access"}
	defaultMaterials         = []string{"Computer/Tablet", "Internet access", "Projector"}
)

// plan asks the generation backend for a detailed plan and falls back to
// the basic plan on any failure. Only cancellation of ctx is returned.
func (g *Generator) plan(ctx context.Context, req Request, c Curriculum) (*DetailedPlan, error) {
	if g.gen == nil {
		return BasicPlan(req, c), nil
	}

	raw, err := g.opts.Policy.Complete(ctx, g.gen, BuildPlanPrompt(req, c), planMaxTokens)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("detailed plan generation failed, using basic plan", "error", err)
		return BasicPlan(req, c), nil
	}

	plan, err := decodePlan(raw)
	if err != nil {
		slog.Warn("failed to decode detailed plan, using basic plan", "error", err)
		return BasicPlan(req, c), nil
	}
	plan.LLMUsed = true
	return plan, nil
}

// BuildPlanPrompt renders the request and the selected resources into a
// prompt asking for a JSON workshop plan.
func BuildPlanPrompt(req Request, c Curriculum) string {
	var sb strings.Builder
	sb.WriteString("You are an expert AI education curriculum designer. Create a detailed workshop curriculum based on the following resources and requirements. Respond with valid JSON only.\n\n")
	fmt.Fprintf(&sb, "INSTITUTION: %s\n", req.Institution)
	fmt.Fprintf(&sb, "TARGET AUDIENCE: %s\n", strings.Join(req.TargetAudience, ", "))
	fmt.Fprintf(&sb, "TOPICS: %s\n", strings.Join(req.Topics, ", "))
	fmt.Fprintf(&sb, "DURATION: %g hours\n\n", req.DurationHours)

	sb.WriteString("AVAILABLE RESOURCES:\n")
	for i, r := range c.Resources {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, r.Title)
		fmt.Fprintf(&sb, "   Author: %s\n", r.Author)
		if r.URL != "" {
			fmt.Fprintf(&sb, "   URL: %s\n", r.URL)
		}
		if len(r.Tags) > 0 {
			fmt.Fprintf(&sb, "   Tags: %s\n", strings.Join(r.Tags, ", "))
		}
		if r.Relevance != "" {
			fmt.Fprintf(&sb, "   Relevance: %s\n", r.Relevance)
		}
		if p := resource.Preview(r.Content, planPreviewRunes); p != "" {
			fmt.Fprintf(&sb, "   Preview: %s\n", p)
		}
	}

	if len(req.LearningObjectives) > 0 {
		sb.WriteString("\nLEARNING OBJECTIVES:\n")
		for _, o := range req.LearningObjectives {
			fmt.Fprintf(&sb, "- %s\n", o)
		}
	}
	if req.InstitutionContext != "" {
		fmt.Fprintf(&sb, "\nINSTITUTION CONTEXT:\n%s\n", req.InstitutionContext)
	}

	sb.WriteString(planFormat)
	return sb.String()
}

const planFormat = `
Include a workshop overview, 3-5 learning objectives, a schedule with time
allocations, a description of every activity, assessment ideas, materials
needed and additional notes, using this JSON structure:
{
  "overview": "...",
  "learning_objectives": ["..."],
  "schedule": [{"time": "00:00-00:30", "activity": "...", "description": "...", "resource": "..."}],
  "activities": [{"title": "...", "description": "...", "duration_minutes": 30, "materials": ["..."], "instructions": "..."}],
  "assessment": {"formative": ["..."], "summative": "..."},
  "materials_needed": ["..."],
  "notes": "..."
}
`

// decodePlan parses a model answer, tolerating a Markdown code fence.
func decodePlan(raw string) (*DetailedPlan, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	var plan DetailedPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	if strings.TrimSpace(plan.Overview) == "" && len(plan.Schedule) == 0 && len(plan.Activities) == 0 {
		return nil, fmt.Errorf("decoding plan: empty plan")
	}
	return &plan, nil
}

// BasicPlan derives a plan from the curriculum alone.
func BasicPlan(req Request, c Curriculum) *DetailedPlan {
	objectives := req.LearningObjectives
	if len(objectives) == 0 {
		objectives = make([]string, 0, len(req.Topics))
		for _, t := range req.Topics {
			objectives = append(objectives, "Understand key concepts in "+t)
		}
	}

	byID := make(map[string]resource.Resource, len(c.Resources))
	activities := make([]Activity, 0, len(c.Resources))
	for _, r := range c.Resources {
		byID[r.ID] = r
		description := r.Relevance
		if description == "" {
			description = "Educational activity"
		}
		guide := r.URL
		if guide == "" {
			guide = "See resource file"
		}
		activities = append(activities, Activity{
			Title:           r.Title,
			Description:     description,
			DurationMinutes: 30,
			Materials:       defaultActivityMaterials,
			Instructions:    "Follow the activity guide: " + guide,
		})
	}

	schedule := make([]PlanItem, 0, len(c.Schedule))
	for _, b := range c.Schedule {
		schedule = append(schedule, PlanItem{
			Time:        clock(b.StartOffsetMinutes) + "-" + clock(b.StartOffsetMinutes+b.DurationMinutes),
			Activity:    b.Title,
			Description: byID[b.ResourceID].Relevance,
			Resource:    b.ResourceID,
		})
	}

	return &DetailedPlan{
		Overview:           fmt.Sprintf("Workshop on %s for %s students.", strings.Join(req.Topics, ", "), audienceLabel(req.TargetAudience)),
		LearningObjectives: objectives,
		Schedule:           schedule,
		Activities:         activities,
		Assessment: Assessment{
			Formative: []string{"Observation during activities", "Q&A sessions"},
			Summative: "Reflection exercise at the end",
		},
		MaterialsNeeded: defaultMaterials,
		Notes:           "Customize activities based on student needs and available time.",
	}
}

// clock formats minutes as HH:MM.
func clock(minutes float64) string {
	m := int(minutes + 0.5)
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
