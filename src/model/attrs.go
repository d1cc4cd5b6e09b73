package model

import "time"

// Typed attribute payloads for the node types the engine actually reads.
// Each payload round-trips through the node's open property map so
// analyzer-supplied extra keys survive untouched.

// EmailAttrs carries the analyzed attributes of an Email node.
type EmailAttrs struct {
	Subject        string
	Sender         string
	Summary        string
	StressLevel    Level
	Priority       Level
	SentimentScore float64
	EmotionalTone  string
	ReceivedAt     time.Time
}

func (a EmailAttrs) ToProperties(into map[string]any) map[string]any {
	if into == nil {
		into = map[string]any{}
	}
	into["subject"] = a.Subject
	into["sender"] = a.Sender
	into["summary"] = a.Summary
	into["stress_level"] = string(a.StressLevel)
	into["priority"] = string(a.Priority)
	into["sentiment_score"] = a.SentimentScore
	if a.EmotionalTone != "" {
		into["emotional_tone"] = a.EmotionalTone
	}
	if !a.ReceivedAt.IsZero() {
		into["received_at"] = a.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}
	return into
}

func EmailAttrsFromProperties(props map[string]any) EmailAttrs {
	return EmailAttrs{
		Subject:        StringFromAny(props["subject"]),
		Sender:         StringFromAny(props["sender"]),
		Summary:        StringFromAny(props["summary"]),
		StressLevel:    ParseLevel(StringFromAny(props["stress_level"]), LevelMedium),
		Priority:       ParseLevel(StringFromAny(props["priority"]), LevelMedium),
		SentimentScore: FloatFromAny(props["sentiment_score"]),
		EmotionalTone:  StringFromAny(props["emotional_tone"]),
		ReceivedAt:     TimeFromAny(props["received_at"]),
	}
}

// EventAttrs carries the attributes of a CalendarEvent node.
type EventAttrs struct {
	Title       string
	Organizer   string
	Summary     string
	StressLevel Level
	Priority    Level
	StartsAt    time.Time
	EndsAt      time.Time
	Location    string
}

func (a EventAttrs) ToProperties(into map[string]any) map[string]any {
	if into == nil {
		into = map[string]any{}
	}
	into["title"] = a.Title
	into["organizer"] = a.Organizer
	into["summary"] = a.Summary
	into["stress_level"] = string(a.StressLevel)
	into["priority"] = string(a.Priority)
	if !a.StartsAt.IsZero() {
		into["starts_at"] = a.StartsAt.UTC().Format(time.RFC3339Nano)
	}
	if !a.EndsAt.IsZero() {
		into["ends_at"] = a.EndsAt.UTC().Format(time.RFC3339Nano)
	}
	if a.Location != "" {
		into["location"] = a.Location
	}
	return into
}

func EventAttrsFromProperties(props map[string]any) EventAttrs {
	return EventAttrs{
		Title:       StringFromAny(props["title"]),
		Organizer:   StringFromAny(props["organizer"]),
		Summary:     StringFromAny(props["summary"]),
		StressLevel: ParseLevel(StringFromAny(props["stress_level"]), LevelMedium),
		Priority:    ParseLevel(StringFromAny(props["priority"]), LevelMedium),
		StartsAt:    TimeFromAny(props["starts_at"]),
		EndsAt:      TimeFromAny(props["ends_at"]),
		Location:    StringFromAny(props["location"]),
	}
}

// TaskAttrs carries the attributes of a Task node extracted from an action item.
type TaskAttrs struct {
	Description string
	SourceID    string
	Priority    Level
	Completed   bool
}

func (a TaskAttrs) ToProperties(into map[string]any) map[string]any {
	if into == nil {
		into = map[string]any{}
	}
	into["description"] = a.Description
	into["source_id"] = a.SourceID
	into["priority"] = string(a.Priority)
	into["completed"] = a.Completed
	return into
}

func TaskAttrsFromProperties(props map[string]any) TaskAttrs {
	return TaskAttrs{
		Description: StringFromAny(props["description"]),
		SourceID:    StringFromAny(props["source_id"]),
		Priority:    ParseLevel(StringFromAny(props["priority"]), LevelMedium),
		Completed:   BoolFromAny(props["completed"]),
	}
}

// RelationshipAttrs carries the attributes of a Relationship (contact) node.
type RelationshipAttrs struct {
	Address          string
	Name             string
	LastContact      time.Time
	InteractionCount int
}

func (a RelationshipAttrs) ToProperties(into map[string]any) map[string]any {
	if into == nil {
		into = map[string]any{}
	}
	into["address"] = a.Address
	if a.Name != "" {
		into["name"] = a.Name
	}
	if !a.LastContact.IsZero() {
		into["last_contact"] = a.LastContact.UTC().Format(time.RFC3339Nano)
	}
	into["interaction_count"] = a.InteractionCount
	return into
}

func RelationshipAttrsFromProperties(props map[string]any) RelationshipAttrs {
	return RelationshipAttrs{
		Address:          StringFromAny(props["address"]),
		Name:             StringFromAny(props["name"]),
		LastContact:      TimeFromAny(props["last_contact"]),
		InteractionCount: IntFromAny(props["interaction_count"]),
	}
}

// EmotionAttrs carries the singleton-per-tenant EmotionState payload. The
// recent window holds the stress levels of the latest ingests, newest last.
type EmotionAttrs struct {
	OverallStress Level
	NeedsSupport  bool
	RecentStress  []Level
}

func (a EmotionAttrs) ToProperties(into map[string]any) map[string]any {
	if into == nil {
		into = map[string]any{}
	}
	into["overall_stress"] = string(a.OverallStress)
	into["needs_support"] = a.NeedsSupport
	recent := make([]string, len(a.RecentStress))
	for i, lvl := range a.RecentStress {
		recent[i] = string(lvl)
	}
	into["recent_stress"] = recent
	return into
}

func EmotionAttrsFromProperties(props map[string]any) EmotionAttrs {
	raw := StringSliceFromAny(props["recent_stress"])
	recent := make([]Level, 0, len(raw))
	for _, s := range raw {
		if lvl := ParseLevel(s, ""); lvl != "" {
			recent = append(recent, lvl)
		}
	}
	return EmotionAttrs{
		OverallStress: ParseLevel(StringFromAny(props["overall_stress"]), LevelLow),
		NeedsSupport:  BoolFromAny(props["needs_support"]),
		RecentStress:  recent,
	}
}
