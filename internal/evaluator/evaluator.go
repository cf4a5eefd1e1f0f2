// Package evaluator picks which ready board items to work on next.
// Prioritization lives here so the orchestrator loop stays free of
// policy.
package evaluator

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/logging"
)

// Evaluator selects ready items, ordered by priority.
type Evaluator interface {
	// PickReadyItems returns up to limit items that are ready and
	// unassigned, highest priority first.
	PickReadyItems(ctx context.Context, limit int) ([]board.Item, error)
}

// priorityRe extracts the numeric rank from priority labels like "P0",
// "P1 - Critical", or a bare "2".
var priorityRe = regexp.MustCompile(`^\s*[Pp]?(\d+)`)

// PriorityRank converts a board priority field value to a sortable rank.
// Lower is more urgent; unparseable or empty values sort last.
func PriorityRank(priority string) int {
	m := priorityRe.FindStringSubmatch(priority)
	if m == nil {
		return int(^uint(0) >> 1)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

// BoardEvaluator is the default Evaluator: ready statuses from the
// mapping, priority field ascending, issue number as the tiebreak.
type BoardEvaluator struct {
	client  board.Client
	mapping *board.StatusMapping
	logger  *logging.Logger
}

// New creates a BoardEvaluator.
func New(client board.Client, mapping *board.StatusMapping, logger *logging.Logger) *BoardEvaluator {
	if mapping == nil {
		mapping = board.DefaultMapping()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &BoardEvaluator{client: client, mapping: mapping, logger: logger.WithComponent("evaluator")}
}

// PickReadyItems implements Evaluator.
func (e *BoardEvaluator) PickReadyItems(ctx context.Context, limit int) ([]board.Item, error) {
	if limit <= 0 {
		return nil, nil
	}

	var picked []board.Item
	var cursor string
	for {
		result, err := e.client.ListItems(ctx, board.ListFilter{
			Statuses: e.mapping.ReadyStatuses(),
			Cursor:   cursor,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range result.Items {
			// Drafts have no issue to branch from; items already claimed
			// stay with their holder.
			if item.IssueNumber == 0 || strings.TrimSpace(item.AssignedInstance) != "" {
				continue
			}
			picked = append(picked, item)
		}
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	sort.SliceStable(picked, func(i, j int) bool {
		ri, rj := PriorityRank(picked[i].Priority), PriorityRank(picked[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return picked[i].IssueNumber < picked[j].IssueNumber
	})

	if len(picked) > limit {
		picked = picked[:limit]
	}
	e.logger.Debug("picked ready items", "count", len(picked), "limit", limit)
	return picked, nil
}
