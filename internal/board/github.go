package board

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	autoerr "github.com/autodevhq/autodev/internal/errors"
	"github.com/autodevhq/autodev/internal/logging"
)

const (
	// pageSize is the GraphQL page size for item listing.
	pageSize = 100

	// itemCacheTTL bounds how long an issue→item-id resolution is reused.
	// Items rarely move between boards, so five minutes is conservative.
	itemCacheTTL = 5 * time.Minute
)

// Options configures a GitHub Projects v2 client.
type Options struct {
	Owner                 string
	ProjectNumber         int
	StatusField           string
	AssignedInstanceField string
	EpicField             string
	PriorityField         string
	RequestTimeout        time.Duration
}

// GitHubClient implements Client against GitHub Projects v2 via the gh CLI.
type GitHubClient struct {
	opts     Options
	executor CommandExecutor
	logger   *logging.Logger

	// itemCache maps "issue-<n>" to a board item id.
	itemCache *cache.Cache

	mu     sync.Mutex
	fields *projectFields // lazily resolved
}

// projectFields holds the resolved GraphQL node ids for the project and the
// fields the orchestrator writes.
type projectFields struct {
	projectID       string
	statusFieldID   string
	statusOptions   map[string]string // option name -> option id
	assignedFieldID string
}

// NewGitHubClient creates a client using the default gh executor.
func NewGitHubClient(opts Options, logger *logging.Logger) *GitHubClient {
	return NewGitHubClientWithExecutor(opts, logger, defaultExecutor)
}

// NewGitHubClientWithExecutor creates a client with a custom command
// executor for testing.
func NewGitHubClientWithExecutor(opts Options, logger *logging.Logger, executor CommandExecutor) *GitHubClient {
	if logger == nil {
		logger = logging.Nop()
	}
	return &GitHubClient{
		opts:      opts,
		executor:  executor,
		logger:    logger.WithComponent("board"),
		itemCache: cache.New(itemCacheTTL, 10*time.Minute),
	}
}

// graphql runs a GraphQL query through gh and unmarshals the "data"
// envelope into out.
func (c *GitHubClient) graphql(ctx context.Context, query string, out any) error {
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	output, execErr := c.executor(ctx, "gh", "api", "graphql", "-f", "query="+query)

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(output, &envelope); err != nil {
		// gh exits non-zero on GraphQL errors but still prints the JSON
		// envelope; non-JSON output means the command itself failed.
		if execErr != nil {
			return c.classifyError(execErr, output)
		}
		return autoerr.NewBoardError("failed to parse GraphQL response", err)
	}
	// Partial responses carry both data and errors (e.g. the user/org
	// project lookup where one branch is always null). Decode what we got
	// before reporting the error so callers can use partial data.
	if out != nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return autoerr.NewBoardError("failed to decode GraphQL data", err)
		}
	}
	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		if first.Type == "NOT_FOUND" {
			return fmt.Errorf("%w: %s", autoerr.ErrItemNotFound, first.Message)
		}
		return autoerr.NewBoardError("GraphQL error: "+first.Message, nil)
	}
	if execErr != nil {
		return c.classifyError(execErr, output)
	}
	return nil
}

// classifyError turns gh failures into the board error taxonomy.
func (c *GitHubClient) classifyError(err error, output []byte) error {
	outStr := strings.ToLower(string(output))

	var execErr *exec.Error
	if autoerr.As(err, &execErr) {
		return autoerr.NewConfigError("gh CLI not found; install it and run gh auth login", execErr)
	}

	switch {
	case strings.Contains(outStr, "not logged in") ||
		strings.Contains(outStr, "authentication required") ||
		strings.Contains(outStr, "gh auth login"):
		return fmt.Errorf("%w: %s", autoerr.ErrAuthRequired, strings.TrimSpace(string(output)))

	case strings.Contains(outStr, "could not resolve"):
		return fmt.Errorf("%w: %s", autoerr.ErrItemNotFound, strings.TrimSpace(string(output)))
	}

	return autoerr.NewBoardError("gh command failed: "+strings.TrimSpace(string(output)), err)
}

// resolveFields fetches and caches the project's node id, the status
// field's options, and the assigned-instance field id. Called lazily so
// construction never does I/O.
func (c *GitHubClient) resolveFields(ctx context.Context) (*projectFields, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fields != nil {
		return c.fields, nil
	}

	projectID, err := c.lookupProjectID(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`query {
		node(id: %q) {
			... on ProjectV2 {
				fields(first: 50) {
					nodes {
						... on ProjectV2FieldCommon { id name }
						... on ProjectV2SingleSelectField { id name options { id name } }
					}
				}
			}
		}
	}`, projectID)

	var resp struct {
		Node struct {
			Fields struct {
				Nodes []struct {
					ID      string `json:"id"`
					Name    string `json:"name"`
					Options []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"options"`
				} `json:"nodes"`
			} `json:"fields"`
		} `json:"node"`
	}
	if err := c.graphql(ctx, query, &resp); err != nil {
		return nil, err
	}

	pf := &projectFields{projectID: projectID, statusOptions: make(map[string]string)}
	for _, f := range resp.Node.Fields.Nodes {
		switch f.Name {
		case c.opts.StatusField:
			pf.statusFieldID = f.ID
			for _, opt := range f.Options {
				pf.statusOptions[opt.Name] = opt.ID
			}
		case c.opts.AssignedInstanceField:
			pf.assignedFieldID = f.ID
		}
	}
	if pf.statusFieldID == "" {
		return nil, autoerr.NewConfigError(
			fmt.Sprintf("board has no field named %q", c.opts.StatusField), nil).
			WithKey("board.status_field")
	}
	if pf.assignedFieldID == "" {
		return nil, autoerr.NewConfigError(
			fmt.Sprintf("board has no field named %q", c.opts.AssignedInstanceField), nil).
			WithKey("board.assigned_instance_field")
	}

	c.fields = pf
	return pf, nil
}

// lookupProjectID resolves the ProjectV2 node id from owner + number. Both
// user and organization owners are tried; GraphQL returns null for the one
// that does not match.
func (c *GitHubClient) lookupProjectID(ctx context.Context) (string, error) {
	query := fmt.Sprintf(`query {
		user(login: %q) { projectV2(number: %d) { id } }
		organization(login: %q) { projectV2(number: %d) { id } }
	}`, c.opts.Owner, c.opts.ProjectNumber, c.opts.Owner, c.opts.ProjectNumber)

	var resp struct {
		User struct {
			ProjectV2 *struct {
				ID string `json:"id"`
			} `json:"projectV2"`
		} `json:"user"`
		Organization struct {
			ProjectV2 *struct {
				ID string `json:"id"`
			} `json:"projectV2"`
		} `json:"organization"`
	}
	// A user/org mismatch yields a NOT_FOUND alongside valid data; ignore
	// the error if either branch resolved.
	err := c.graphql(ctx, query, &resp)
	if resp.User.ProjectV2 != nil {
		return resp.User.ProjectV2.ID, nil
	}
	if resp.Organization.ProjectV2 != nil {
		return resp.Organization.ProjectV2.ID, nil
	}
	if err != nil {
		return "", err
	}
	return "", autoerr.NewConfigError(
		fmt.Sprintf("project %d not found for owner %q", c.opts.ProjectNumber, c.opts.Owner), nil).
		WithKey("board.project_number")
}

// ListItems returns one page of up to 100 items matching the filter.
func (c *GitHubClient) ListItems(ctx context.Context, filter ListFilter) (ListResult, error) {
	pf, err := c.resolveFields(ctx)
	if err != nil {
		return ListResult{}, err
	}

	after := "null"
	if filter.Cursor != "" {
		after = fmt.Sprintf("%q", filter.Cursor)
	}

	query := fmt.Sprintf(`query {
		node(id: %q) {
			... on ProjectV2 {
				items(first: %d, after: %s) {
					pageInfo { hasNextPage endCursor }
					nodes {
						id
						content { ... on Issue { number title } }
						fieldValues(first: 30) {
							nodes {
								... on ProjectV2ItemFieldSingleSelectValue {
									name
									field { ... on ProjectV2FieldCommon { name } }
								}
								... on ProjectV2ItemFieldTextValue {
									text
									field { ... on ProjectV2FieldCommon { name } }
								}
							}
						}
					}
				}
			}
		}
	}`, pf.projectID, pageSize, after)

	var resp struct {
		Node struct {
			Items struct {
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
				Nodes []struct {
					ID      string `json:"id"`
					Content struct {
						Number int    `json:"number"`
						Title  string `json:"title"`
					} `json:"content"`
					FieldValues struct {
						Nodes []struct {
							Name  string `json:"name"`
							Text  string `json:"text"`
							Field struct {
								Name string `json:"name"`
							} `json:"field"`
						} `json:"nodes"`
					} `json:"fieldValues"`
				} `json:"nodes"`
			} `json:"items"`
		} `json:"node"`
	}
	if err := c.graphql(ctx, query, &resp); err != nil {
		return ListResult{}, err
	}

	wantStatus := make(map[string]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		wantStatus[s] = true
	}

	var result ListResult
	for _, node := range resp.Node.Items.Nodes {
		item := Item{
			ID:          node.ID,
			IssueNumber: node.Content.Number,
			Title:       node.Content.Title,
		}
		for _, fv := range node.FieldValues.Nodes {
			switch fv.Field.Name {
			case c.opts.StatusField:
				item.Status = fv.Name
			case c.opts.AssignedInstanceField:
				item.AssignedInstance = fv.Text
			case c.opts.EpicField:
				if fv.Name != "" {
					item.Epic = fv.Name
				} else {
					item.Epic = fv.Text
				}
			case c.opts.PriorityField:
				if fv.Name != "" {
					item.Priority = fv.Name
				} else {
					item.Priority = fv.Text
				}
			}
		}
		if len(wantStatus) > 0 && !wantStatus[item.Status] {
			continue
		}
		result.Items = append(result.Items, item)
	}
	if resp.Node.Items.PageInfo.HasNextPage {
		result.NextCursor = resp.Node.Items.PageInfo.EndCursor
	}
	return result, nil
}

// ListAllItems pages through the entire board.
func (c *GitHubClient) ListAllItems(ctx context.Context) ([]Item, error) {
	var all []Item
	cursor := ""
	for {
		page, err := c.ListItems(ctx, ListFilter{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// GetStatus returns the raw status name for an item.
func (c *GitHubClient) GetStatus(ctx context.Context, itemID string) (string, error) {
	item, err := c.getItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	return item.Status, nil
}

// GetAssignedInstance returns the assigned-instance field for an item.
func (c *GitHubClient) GetAssignedInstance(ctx context.Context, itemID string) (string, error) {
	item, err := c.getItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	return item.AssignedInstance, nil
}

// getItem fetches a single item's tracked field values.
func (c *GitHubClient) getItem(ctx context.Context, itemID string) (Item, error) {
	query := fmt.Sprintf(`query {
		node(id: %q) {
			... on ProjectV2Item {
				id
				content { ... on Issue { number title } }
				fieldValues(first: 30) {
					nodes {
						... on ProjectV2ItemFieldSingleSelectValue {
							name
							field { ... on ProjectV2FieldCommon { name } }
						}
						... on ProjectV2ItemFieldTextValue {
							text
							field { ... on ProjectV2FieldCommon { name } }
						}
					}
				}
			}
		}
	}`, itemID)

	var resp struct {
		Node *struct {
			ID      string `json:"id"`
			Content struct {
				Number int    `json:"number"`
				Title  string `json:"title"`
			} `json:"content"`
			FieldValues struct {
				Nodes []struct {
					Name  string `json:"name"`
					Text  string `json:"text"`
					Field struct {
						Name string `json:"name"`
					} `json:"field"`
				} `json:"nodes"`
			} `json:"fieldValues"`
		} `json:"node"`
	}
	if err := c.graphql(ctx, query, &resp); err != nil {
		return Item{}, err
	}
	if resp.Node == nil || resp.Node.ID == "" {
		return Item{}, fmt.Errorf("%w: item %s", autoerr.ErrItemNotFound, itemID)
	}

	item := Item{
		ID:          resp.Node.ID,
		IssueNumber: resp.Node.Content.Number,
		Title:       resp.Node.Content.Title,
	}
	for _, fv := range resp.Node.FieldValues.Nodes {
		switch fv.Field.Name {
		case c.opts.StatusField:
			item.Status = fv.Name
		case c.opts.AssignedInstanceField:
			item.AssignedInstance = fv.Text
		}
	}
	return item, nil
}

// SetStatus writes a status option by name.
func (c *GitHubClient) SetStatus(ctx context.Context, itemID, status string) error {
	pf, err := c.resolveFields(ctx)
	if err != nil {
		return err
	}
	optionID, ok := pf.statusOptions[status]
	if !ok {
		return autoerr.NewBoardError(
			fmt.Sprintf("status %q is not an option of field %q", status, c.opts.StatusField), nil).
			WithItemID(itemID)
	}

	query := fmt.Sprintf(`mutation {
		updateProjectV2ItemFieldValue(input: {
			projectId: %q, itemId: %q, fieldId: %q,
			value: { singleSelectOptionId: %q }
		}) { projectV2Item { id } }
	}`, pf.projectID, itemID, pf.statusFieldID, optionID)

	if err := c.graphql(ctx, query, nil); err != nil {
		return err
	}
	c.logger.Debug("board status set", "item_id", itemID, "status", status)
	return nil
}

// SetAssignedInstance writes the assigned-instance text field. An empty
// value clears the field.
func (c *GitHubClient) SetAssignedInstance(ctx context.Context, itemID, instance string) error {
	pf, err := c.resolveFields(ctx)
	if err != nil {
		return err
	}

	var query string
	if instance == "" {
		query = fmt.Sprintf(`mutation {
			clearProjectV2ItemFieldValue(input: {
				projectId: %q, itemId: %q, fieldId: %q
			}) { projectV2Item { id } }
		}`, pf.projectID, itemID, pf.assignedFieldID)
	} else {
		query = fmt.Sprintf(`mutation {
			updateProjectV2ItemFieldValue(input: {
				projectId: %q, itemId: %q, fieldId: %q,
				value: { text: %q }
			}) { projectV2Item { id } }
		}`, pf.projectID, itemID, pf.assignedFieldID, instance)
	}

	if err := c.graphql(ctx, query, nil); err != nil {
		return err
	}
	c.logger.Debug("board assigned instance set", "item_id", itemID, "instance", instance)
	return nil
}

// ItemForIssue resolves the board item id for an issue number by scanning
// the board. Resolutions are cached; the cache is invalidated by TTL only,
// since items keep their ids for their lifetime.
func (c *GitHubClient) ItemForIssue(ctx context.Context, issueNumber int) (string, error) {
	key := fmt.Sprintf("issue-%d", issueNumber)
	if id, found := c.itemCache.Get(key); found {
		return id.(string), nil
	}

	items, err := c.ListAllItems(ctx)
	if err != nil {
		return "", err
	}
	for _, item := range items {
		if item.IssueNumber > 0 {
			c.itemCache.Set(fmt.Sprintf("issue-%d", item.IssueNumber), item.ID, cache.DefaultExpiration)
		}
	}

	if id, found := c.itemCache.Get(key); found {
		return id.(string), nil
	}
	return "", fmt.Errorf("%w: issue #%d is not on the board", autoerr.ErrItemNotFound, issueNumber)
}

var _ Client = (*GitHubClient)(nil)
