// Command mnemosyne runs the memory processing engine over a message dump:
// it reads newline-delimited JSON messages, batches them per conversation,
// extracts emotional memories, and prints a run summary.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	mnemosyne "github.com/nathanvale/mnemosyne-sub013"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	input := flag.String("input", "-", "message dump to process (NDJSON), or - for stdin")
	maxUSD := flag.Float64("max-usd", -1, "dollar budget for the run; negative means unlimited, 0 forbids any spend")
	workers := flag.Int("workers", 0, "worker pool size; 0 uses the configured default")
	mode := flag.String("mode", "", "batch priority mode: quality, throughput, or cost")
	storage := flag.String("storage", "", "storage backend: postgres, sqlite, or memory")
	reviewN := flag.Int("review", 5, "how many review-queue entries to print after the run")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("MNEMOSYNE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, *input, *maxUSD, *workers, *mode, *storage, *reviewN); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger, input string, maxUSD float64, workers int, mode, storage string, reviewN int) error {
	opts := []mnemosyne.Option{
		mnemosyne.WithLogger(logger),
		mnemosyne.WithVersion(version),
	}
	if maxUSD >= 0 {
		opts = append(opts, mnemosyne.WithMaxUSD(maxUSD))
	}
	if workers > 0 {
		opts = append(opts, mnemosyne.WithWorkerCount(workers))
	}
	if mode != "" {
		opts = append(opts, mnemosyne.WithPriorityMode(mode))
	}
	if storage != "" {
		opts = append(opts, mnemosyne.WithStorageBackend(storage))
	}

	eng, err := mnemosyne.New(opts...)
	if err != nil {
		return err
	}

	conversations, order, err := readMessages(input)
	if err != nil {
		return err
	}
	logger.Info("message dump loaded", "conversations", len(order))

	eng.Start(ctx)
	for _, convID := range order {
		if _, err := eng.ProcessConversation(ctx, convID, conversations[convID]); err != nil {
			logger.Error("conversation rejected", "conversation", convID, "error", err)
			break
		}
	}

	runErr := eng.Close(ctx)
	printSummary(eng.Progress())
	if reviewN > 0 {
		printReviewQueue(ctx, eng, reviewN)
	}
	return runErr
}

// wireMessage is one NDJSON input line.
type wireMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	AuthorID       string    `json:"authorId"`
	Timestamp      time.Time `json:"timestamp"`
	Text           string    `json:"text"`
}

// readMessages parses the dump and groups messages per conversation in
// timestamp order. Conversation order follows first appearance.
func readMessages(input string) (map[string][]mnemosyne.Message, []string, error) {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		r = f
	}

	conversations := make(map[string][]mnemosyne.Message)
	var order []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var wm wireMessage
		if err := json.Unmarshal(sc.Bytes(), &wm); err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		if wm.ConversationID == "" {
			return nil, nil, fmt.Errorf("line %d: missing conversationId", line)
		}
		if _, seen := conversations[wm.ConversationID]; !seen {
			order = append(order, wm.ConversationID)
		}
		conversations[wm.ConversationID] = append(conversations[wm.ConversationID], mnemosyne.Message{
			ID:             wm.ID,
			ConversationID: wm.ConversationID,
			AuthorID:       wm.AuthorID,
			Timestamp:      wm.Timestamp,
			Text:           wm.Text,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	for _, msgs := range conversations {
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	}
	return conversations, order, nil
}

func printSummary(p mnemosyne.Progress) {
	fmt.Printf("batches:   %d completed, %d failed\n", p.BatchesCompleted, p.BatchesFailed)
	fmt.Printf("memories:  %d extracted (%d duplicates, %d merged)\n", p.MemoriesExtracted, p.Duplicates, p.Merged)
	fmt.Printf("routing:   %d auto-approved, %d need review, %d auto-rejected\n", p.AutoApproved, p.NeedsReview, p.AutoRejected)
	fmt.Printf("quality:   mean confidence %.2f\n", p.AverageConfidence)
	fmt.Printf("cost:      $%.4f\n", p.SpentUSD)
}

func printReviewQueue(ctx context.Context, eng *mnemosyne.Engine, n int) {
	queue, err := eng.NextForReview(ctx, n)
	if err != nil {
		slog.Error("review queue read failed", "error", err)
		return
	}
	if len(queue) == 0 {
		return
	}
	fmt.Printf("\nreview queue (top %d by priority):\n", len(queue))
	for _, m := range queue {
		fmt.Printf("  %s  p=%.1f conf=%.2f  %s\n", m.ID, m.ValidationPriority, m.Confidence, m.Summary)
	}
}
