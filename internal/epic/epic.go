// Package epic sequences phased work inside an epic. Items carry a phase
// number in their title ("Phase 2: wire the cache"); each phase has at
// most one master item whose job is to merge the phase's branches and open
// the phase PR. Work items of phase N become assignable only after phase
// N-1 is fully complete, and a master becomes assignable only after every
// work item in its phase is done and merged.
package epic

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/logging"
	"github.com/autodevhq/autodev/internal/paths"
)

// phaseRe matches "Phase 3" or "Phase 3.2" anywhere in a title, capturing
// the integer part and the optional fractional designator.
var phaseRe = regexp.MustCompile(`(?i)\bphase\s+(\d+)(\.\d+)?\b`)

// BranchChecker answers whether an item's branch already landed on the
// default branch. Satisfied by worktree.Provider.
type BranchChecker interface {
	BranchExists(name string) (bool, error)
	BranchMergedIntoDefault(branch string) (bool, error)
}

// Coordinator restricts candidate items to what phase sequencing allows.
type Coordinator struct {
	epicName     string
	masterMarker string
	mapping      *board.StatusMapping
	branches     BranchChecker
	logger       *logging.Logger
}

// New creates a Coordinator for one epic. masterMarker defaults to
// "MASTER" when empty. branches may be nil, in which case phase
// completeness degrades to board status alone.
func New(epicName, masterMarker string, mapping *board.StatusMapping, branches BranchChecker, logger *logging.Logger) *Coordinator {
	if masterMarker == "" {
		masterMarker = "MASTER"
	}
	if mapping == nil {
		mapping = board.DefaultMapping()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		epicName:     epicName,
		masterMarker: masterMarker,
		mapping:      mapping,
		branches:     branches,
		logger:       logger.WithComponent("epic"),
	}
}

// Name returns the epic this coordinator sequences.
func (c *Coordinator) Name() string { return c.epicName }

// Belongs reports whether an item is part of the epic: its epic field
// matches, or its title contains the epic name.
func (c *Coordinator) Belongs(item board.Item) bool {
	if strings.EqualFold(strings.TrimSpace(item.Epic), c.epicName) {
		return true
	}
	return strings.Contains(strings.ToLower(item.Title), strings.ToLower(c.epicName))
}

// PhaseOf extracts the integer phase from an item's title. Items without a
// phase designator belong to phase 0.
func PhaseOf(item board.Item) int {
	m := phaseRe.FindStringSubmatch(item.Title)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// IsMaster reports whether an item is a phase master: the title carries
// the marker token and the phase designator is a bare integer. "Phase 2.1
// MASTER" is not a master, sub-phase items never are.
func (c *Coordinator) IsMaster(item board.Item) bool {
	if !strings.Contains(item.Title, c.masterMarker) {
		return false
	}
	m := phaseRe.FindStringSubmatch(item.Title)
	if m == nil {
		return false
	}
	return m[2] == ""
}

// phase groups one phase's items.
type phase struct {
	number int
	work   []board.Item
	master *board.Item
}

// group buckets the epic's items by phase number, ascending.
func (c *Coordinator) group(items []board.Item) []*phase {
	byNumber := make(map[int]*phase)
	for _, item := range items {
		if !c.Belongs(item) {
			continue
		}
		n := PhaseOf(item)
		p, ok := byNumber[n]
		if !ok {
			p = &phase{number: n}
			byNumber[n] = p
		}
		if c.IsMaster(item) {
			if p.master != nil {
				c.logger.Warn("phase has duplicate masters, keeping the first",
					"phase", n, "kept", p.master.Title, "ignored", item.Title)
				continue
			}
			it := item
			p.master = &it
			continue
		}
		p.work = append(p.work, item)
	}

	phases := make([]*phase, 0, len(byNumber))
	for _, p := range byNumber {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i].number < phases[j].number })
	return phases
}

// workDone reports whether every non-master work item is complete on the
// board and its branch has landed on the default branch.
func (c *Coordinator) workDone(p *phase) bool {
	for _, item := range p.work {
		if !c.mapping.IsComplete(item.Status) {
			return false
		}
		if !c.branchLanded(item) {
			return false
		}
	}
	return true
}

// branchLanded checks that the item's branch is merged into the default
// branch. A branch that never existed counts as landed (the worker may
// have pushed nothing, or it was already cleaned up after merge).
func (c *Coordinator) branchLanded(item board.Item) bool {
	if c.branches == nil || item.IssueNumber == 0 {
		return true
	}
	branch := paths.IssueBranch(item.IssueNumber)
	exists, err := c.branches.BranchExists(branch)
	if err != nil {
		c.logger.Warn("branch check failed, treating phase as incomplete",
			"branch", branch, "error", err)
		return false
	}
	if !exists {
		return true
	}
	merged, err := c.branches.BranchMergedIntoDefault(branch)
	if err != nil {
		c.logger.Warn("merge check failed, treating phase as incomplete",
			"branch", branch, "error", err)
		return false
	}
	return merged
}

// isComplete reports whether a phase is fully finished: all work landed
// and, when a master exists, the master's phase PR is merged. An empty
// phase is never complete.
func (c *Coordinator) isComplete(p *phase) bool {
	if len(p.work) == 0 && p.master == nil {
		return false
	}
	if !c.workDone(p) {
		return false
	}
	if p.master != nil && !c.masterMerged(*p.master) {
		return false
	}
	return true
}

// masterMerged reports whether the phase master itself landed: its board
// status maps to merged. Dev Complete is not enough; the phase PR is
// still open at that point.
func (c *Coordinator) masterMerged(master board.Item) bool {
	local, ok := c.mapping.ToLocal(master.Status)
	return ok && local == assignment.StatusMerged
}

// Restrict narrows candidates to the items phase sequencing currently
// allows. The current phase is the lowest incomplete one:
//
//   - master already assigned or awaiting merge: nothing
//   - all work items done: just the master, if any
//   - otherwise: the phase's unassigned work items
//
// All phases complete means nothing is returned.
func (c *Coordinator) Restrict(candidates []board.Item) []board.Item {
	phases := c.group(candidates)
	if len(phases) == 0 {
		return nil
	}

	var current *phase
	for _, p := range phases {
		if !c.isComplete(p) {
			current = p
			break
		}
	}
	if current == nil {
		c.logger.Info("all phases complete", "epic", c.epicName)
		return nil
	}

	if current.master != nil && current.master.AssignedInstance != "" {
		c.logger.Debug("phase master in flight, holding new work",
			"phase", current.number, "master", current.master.Title)
		return nil
	}

	if c.workDone(current) {
		m := current.master
		if m == nil {
			return nil
		}
		// A master whose board status already maps locally has been
		// dispatched or finished its run; hold until the board moves it to
		// merged.
		if _, started := c.mapping.ToLocal(m.Status); started {
			c.logger.Debug("phase master awaiting merge, holding",
				"phase", current.number, "status", m.Status)
			return nil
		}
		return []board.Item{*m}
	}

	var out []board.Item
	for _, item := range current.work {
		if item.AssignedInstance != "" || !c.mapping.IsReady(item.Status) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// SiblingBranches returns the branch names of the work items sharing a
// master's phase, for the master's merge prompt. Branches that were never
// pushed are skipped.
func (c *Coordinator) SiblingBranches(items []board.Item, master board.Item) []string {
	n := PhaseOf(master)
	var out []string
	for _, p := range c.group(items) {
		if p.number != n {
			continue
		}
		for _, item := range p.work {
			if item.IssueNumber == 0 {
				continue
			}
			branch := paths.IssueBranch(item.IssueNumber)
			if c.branches != nil {
				exists, err := c.branches.BranchExists(branch)
				if err != nil || !exists {
					continue
				}
			}
			out = append(out, branch)
		}
	}
	sort.Strings(out)
	return out
}
