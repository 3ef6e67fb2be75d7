package simulation

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/psantana5/physician/pkg/models"
)

// ForcePerKg is the base force magnitude in newtons per kilogram of payload
const ForcePerKg = 1000.0

// RuleGroup decides how matching rules in the same group combine
type RuleGroup string

const (
	// GroupExclusive rules are mutually exclusive; the first match wins
	GroupExclusive RuleGroup = "exclusive"
	// GroupAdditive rules all contribute when they match
	GroupAdditive RuleGroup = "additive"
)

// ForceRule maps a command keyword to a force contribution along Axis
type ForceRule struct {
	Keyword string
	Group   RuleGroup
	Axis    models.Vec3
	Scale   float64
}

// RuleTable is an ordered list of force rules. Order is precedence inside an
// exclusive group.
type RuleTable []ForceRule

// DefaultRules is the command vocabulary understood by the driver
var DefaultRules = RuleTable{
	{Keyword: "right", Group: GroupExclusive, Axis: models.Vec3{X: 1}, Scale: 1},
	{Keyword: "left", Group: GroupExclusive, Axis: models.Vec3{X: -1}, Scale: 1},
	{Keyword: "lift", Group: GroupAdditive, Axis: models.Vec3{Z: 1}, Scale: 1.5},
}

var folder = cases.Fold()

// NormalizeCommand applies NFKC and case folding so keyword matching is
// insensitive to width variants and letter case.
func NormalizeCommand(command string) string {
	return folder.String(norm.NFKC.String(command))
}

// Derive returns the constant force applied for command on a body of massKg
func (t RuleTable) Derive(command string, massKg float64) models.Vec3 {
	cmd := NormalizeCommand(command)
	magnitude := ForcePerKg * massKg

	var force models.Vec3
	exclusiveTaken := false
	for _, rule := range t {
		if !strings.Contains(cmd, rule.Keyword) {
			continue
		}
		if rule.Group == GroupExclusive {
			if exclusiveTaken {
				continue
			}
			exclusiveTaken = true
		}
		k := magnitude * rule.Scale
		force.X += rule.Axis.X * k
		force.Y += rule.Axis.Y * k
		force.Z += rule.Axis.Z * k
	}
	return force
}

// Matches returns the keywords of the rules that fire for command
func (t RuleTable) Matches(command string) []string {
	cmd := NormalizeCommand(command)
	var matched []string
	exclusiveTaken := false
	for _, rule := range t {
		if !strings.Contains(cmd, rule.Keyword) {
			continue
		}
		if rule.Group == GroupExclusive {
			if exclusiveTaken {
				continue
			}
			exclusiveTaken = true
		}
		matched = append(matched, rule.Keyword)
	}
	return matched
}
