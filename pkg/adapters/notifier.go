package adapters

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
)

// ReviewNotification carries the facts a channel implementation needs to
// reach a reviewer. Transport (mail, chat) is out of scope here.
type ReviewNotification struct {
	TaskID    int64
	Period    string
	Summary   map[string]any
	ReportURL string
}

// Notifier signals reviewers. Implementations must be idempotent per
// task id and decision.
type Notifier interface {
	NotifyHumanReview(ctx context.Context, n ReviewNotification) error
	NotifyDecision(ctx context.Context, taskID int64, period, decision, comment, reportPath string) error
}

// LogNotifier writes notifications to the structured log. It is the
// default transport and deduplicates repeated deliveries.
type LogNotifier struct {
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger, seen: make(map[string]bool)}
}

func (n *LogNotifier) NotifyHumanReview(ctx context.Context, note ReviewNotification) error {
	key := notifyKey("review", note.TaskID, "")
	if n.alreadySent(key) {
		return nil
	}
	n.logger.Info("human review requested",
		"task_id", note.TaskID, "period", note.Period, "report_url", note.ReportURL)
	return nil
}

func (n *LogNotifier) NotifyDecision(ctx context.Context, taskID int64, period, decision, comment, reportPath string) error {
	key := notifyKey("decision", taskID, decision)
	if n.alreadySent(key) {
		return nil
	}
	n.logger.Info("review decision notified",
		"task_id", taskID, "period", period, "decision", decision,
		"comment", comment, "report_path", reportPath)
	return nil
}

func (n *LogNotifier) alreadySent(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seen[key] {
		return true
	}
	n.seen[key] = true
	return false
}

func notifyKey(kind string, taskID int64, decision string) string {
	return kind + ":" + decision + ":" + strconv.FormatInt(taskID, 10)
}
