// Command contextmem runs a small end-to-end demonstration of the context
// memory engine: it ingests a couple of emails and a calendar event for one
// user, then recalls what the engine learned.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	contextmem "github.com/quiethours/contextmem"
	"github.com/quiethours/contextmem/src/config"
)

func main() {
	var (
		userID = flag.String("user", "demo-user", "Tenant identifier for the demo data")
		query  = flag.String("query", "project deadline", "Recall query to run after ingestion")
	)
	flag.Parse()

	cfg := config.Load()
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           parseLevel(cfg.Log.Level),
	})

	ctx := context.Background()
	engine, err := contextmem.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open engine", "err", err)
	}

	entities := []contextmem.Entity{
		{
			Kind:    contextmem.KindEmail,
			Subject: "Project deadline moved up",
			Sender:  "manager@example.com",
			Text:    "The launch was moved to next Tuesday. Please send the updated timeline by Friday, this is urgent.",
		},
		{
			Kind:    contextmem.KindEmail,
			Subject: "Lunch next week?",
			Sender:  "friend@example.com",
			Text:    "Great seeing you last weekend. Want to grab lunch on Wednesday?",
		},
		{
			Kind:         contextmem.KindCalendarEvent,
			Subject:      "Launch planning sync",
			Participants: []string{"manager@example.com", "pm@example.com"},
			StartsAt:     time.Now().Add(48 * time.Hour),
			EndsAt:       time.Now().Add(49 * time.Hour),
			Location:     "Room 4A",
		},
	}

	for _, entity := range entities {
		result, err := engine.Ingest(ctx, *userID, entity)
		if err != nil {
			logger.Fatal("ingest", "subject", entity.Subject, "err", err)
		}
		logger.Info("ingested",
			"subject", entity.Subject,
			"node", result.NodeID,
			"tasks", len(result.TaskIDs),
			"stress", result.Analysis.StressLevel,
			"priority", result.Analysis.Priority)
	}

	recall, err := engine.Recall(ctx, *userID, *query, contextmem.RecallOptions{Limit: 5})
	if err != nil {
		logger.Fatal("recall", "err", err)
	}

	fmt.Printf("\nRecall for %q:\n", *query)
	for _, hit := range recall.Memories {
		fmt.Printf("  %.3f  %s\n", hit.Score, firstLine(hit.Item.Text))
	}
	fmt.Printf("\nEmotion: overall=%s needs_support=%v recent=%v\n",
		recall.Emotion.OverallStress, recall.Emotion.NeedsSupport, recall.Emotion.RecentStress)

	stats, err := engine.Stats(ctx, *userID)
	if err != nil {
		logger.Fatal("stats", "err", err)
	}
	fmt.Printf("Stats: nodes=%d edges=%d memories=%d degraded=%v\n",
		stats.GraphNodes, stats.GraphEdges, stats.Memories, stats.Degraded)
}

func parseLevel(raw string) log.Level {
	switch raw {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func firstLine(text string) string {
	for i, ch := range text {
		if ch == '\n' {
			return text[:i]
		}
	}
	if len(text) > 80 {
		return text[:80] + "..."
	}
	return text
}
