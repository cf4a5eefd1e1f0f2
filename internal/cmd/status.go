package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/logging"
)

var (
	bucketTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	itemStyle        = lipgloss.NewStyle().PaddingLeft(2)
	instanceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	countStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	draftStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the board grouped by status",
	Long: `Status fetches every item on the configured project board and prints
them grouped by status column, with the worker instance holding each
claimed item.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.Nop()
	client := board.NewGitHubClient(board.Options{
		Owner:                 cfg.Board.Owner,
		ProjectNumber:         cfg.Board.ProjectNumber,
		StatusField:           cfg.Board.StatusField,
		AssignedInstanceField: cfg.Board.AssignedInstanceField,
		EpicField:             cfg.Board.EpicField,
		PriorityField:         cfg.Board.PriorityField,
		RequestTimeout:        cfg.Board.RequestTimeout(),
	}, logger)

	items, err := client.ListAllItems(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderBoard(items))
	return nil
}

// renderBoard groups items by raw status and renders one bucket per
// status, ordered by the usual flow with unknown statuses at the end.
func renderBoard(items []board.Item) string {
	buckets := make(map[string][]board.Item)
	for _, item := range items {
		status := item.Status
		if status == "" {
			status = "No Status"
		}
		buckets[status] = append(buckets[status], item)
	}

	order := bucketOrder(buckets)

	var sb strings.Builder
	for _, status := range order {
		bucket := buckets[status]
		sort.Slice(bucket, func(i, j int) bool {
			return bucket[i].IssueNumber < bucket[j].IssueNumber
		})

		sb.WriteString(bucketTitleStyle.Render(status))
		sb.WriteString(" " + countStyle.Render(fmt.Sprintf("(%d)", len(bucket))))
		sb.WriteString("\n")
		for _, item := range bucket {
			sb.WriteString(itemStyle.Render(renderItem(item)))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderItem(item board.Item) string {
	var line string
	if item.IssueNumber > 0 {
		line = fmt.Sprintf("#%-5d %s", item.IssueNumber, item.Title)
	} else {
		line = draftStyle.Render(fmt.Sprintf("draft  %s", item.Title))
	}
	if item.AssignedInstance != "" {
		line += " " + instanceStyle.Render("["+item.AssignedInstance+"]")
	}
	return line
}

// bucketOrder returns present statuses in workflow order, then the rest
// alphabetically.
func bucketOrder(buckets map[string][]board.Item) []string {
	canonical := []string{"Ready", "Todo", "In Progress", "In Review", "Blocked", "Dev Complete", "Done", "Failed"}
	seen := make(map[string]bool)
	var order []string
	for _, s := range canonical {
		if _, ok := buckets[s]; ok {
			order = append(order, s)
			seen[s] = true
		}
	}
	var rest []string
	for s := range buckets {
		if !seen[s] {
			rest = append(rest, s)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}
