// Package material implements the compatibility engine consulted by the
// scheduler: a material→group mapping plus a symmetric changeover cost matrix
// between groups.
package material

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/me/godnc/pkg/model"
)

// Engine answers compatibility and changeover-cost queries. It is immutable
// after Load and safe for concurrent use.
type Engine struct {
	groups map[string]string             // material -> group
	costs  map[string]map[string]float64 // group -> group -> minutes
	logger *slog.Logger
}

// DefaultCosts returns the shipped changeover matrix in minutes between the
// four stock groups a typical shop runs. Deployments override it in config.
func DefaultCosts() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"STEEL":           {"STEEL": 0, "ALUMINUM": 30, "STAINLESS_STEEL": 45, "COPPER": 60},
		"ALUMINUM":        {"ALUMINUM": 0, "STEEL": 30, "STAINLESS_STEEL": 40, "COPPER": 35},
		"STAINLESS_STEEL": {"STAINLESS_STEEL": 0, "STEEL": 45, "ALUMINUM": 40, "COPPER": 50},
		"COPPER":          {"COPPER": 0, "STEEL": 60, "ALUMINUM": 35, "STAINLESS_STEEL": 50},
	}
}

// New creates an Engine from a group cost matrix. The matrix must be
// symmetric, non-negative, and zero on the diagonal; violations are a
// ConfigError.
func New(costs map[string]map[string]float64, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		groups: make(map[string]string),
		costs:  make(map[string]map[string]float64, len(costs)),
		logger: logger.With("component", "material"),
	}

	for a, row := range costs {
		e.costs[a] = make(map[string]float64, len(row))
		for b, c := range row {
			if c < 0 {
				return nil, &model.ConfigError{Msg: fmt.Sprintf("negative changeover cost %s -> %s: %v", a, b, c)}
			}
			e.costs[a][b] = c
		}
	}
	for a, row := range e.costs {
		if d, ok := row[a]; !ok || d != 0 {
			return nil, &model.ConfigError{Msg: fmt.Sprintf("changeover cost %s -> %s must be 0", a, a)}
		}
		for b, c := range row {
			back, ok := e.costs[b]
			if !ok {
				return nil, &model.ConfigError{Msg: fmt.Sprintf("cost matrix references unknown group %s", b)}
			}
			if rc, ok := back[a]; !ok || rc != c {
				return nil, &model.ConfigError{Msg: fmt.Sprintf("changeover cost %s/%s is not symmetric", a, b)}
			}
		}
	}

	return e, nil
}

// Load reads the material→group table from CSV. The file must have "material"
// and "group" columns; duplicate material keys and references to groups
// absent from the cost matrix are a ConfigError.
func (e *Engine) Load(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return &model.ConfigError{Msg: fmt.Sprintf("material table: read header: %v", err)}
	}

	matCol, grpCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "material":
			matCol = i
		case "group":
			grpCol = i
		}
	}
	if matCol < 0 || grpCol < 0 {
		return &model.ConfigError{Msg: "material table: missing required columns material, group"}
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return &model.ConfigError{Msg: fmt.Sprintf("material table line %d: %v", line, err)}
		}

		mat := strings.TrimSpace(rec[matCol])
		grp := strings.TrimSpace(rec[grpCol])
		if mat == "" {
			return &model.ConfigError{Msg: fmt.Sprintf("material table line %d: empty material", line)}
		}
		if _, dup := e.groups[mat]; dup {
			return &model.ConfigError{Msg: fmt.Sprintf("material table line %d: duplicate material %s", line, mat)}
		}
		if _, ok := e.costs[grp]; !ok {
			return &model.ConfigError{Msg: fmt.Sprintf("material table line %d: unknown group %s", line, grp)}
		}
		e.groups[mat] = grp
	}

	e.logger.Info("material table loaded", "materials", len(e.groups), "groups", len(e.costs))
	return nil
}

// GroupOf resolves a material to its changeover group. Materials that also
// name a group directly resolve to themselves.
func (e *Engine) GroupOf(mat string) (string, bool) {
	if g, ok := e.groups[mat]; ok {
		return g, true
	}
	if _, ok := e.costs[mat]; ok {
		return mat, true
	}
	return "", false
}

// Compatible reports whether a machine loaded with have can service a task
// requiring need. Unknown materials are incompatible with everything;
// silently matching them would dispatch work onto the wrong stock.
func (e *Engine) Compatible(have, need string) bool {
	gh, ok := e.GroupOf(have)
	if !ok {
		return false
	}
	gn, ok := e.GroupOf(need)
	if !ok {
		return false
	}
	if gh == gn {
		return true
	}
	_, ok = e.costs[gh][gn]
	return ok
}

// ChangeoverCost returns the cost in minutes of switching a machine from
// groupA stock to groupB stock. Unknown pairs are a ConfigError, never a
// silent zero.
func (e *Engine) ChangeoverCost(groupA, groupB string) (float64, error) {
	row, ok := e.costs[groupA]
	if !ok {
		return 0, &model.ConfigError{Msg: "unknown material group " + groupA}
	}
	c, ok := row[groupB]
	if !ok {
		return 0, &model.ConfigError{Msg: "no changeover cost defined for " + groupA + " -> " + groupB}
	}
	return c, nil
}
