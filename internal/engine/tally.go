package engine

import (
	"fmt"

	"github.com/daviddao/phishbeads/internal/dissect"
)

var groupLabels = []struct {
	group, label string
}{
	{dissect.GroupSender, "Sender"},
	{dissect.GroupReplyTo, "ReplyTo"},
	{dissect.GroupHops, "Mail hops"},
	{dissect.GroupLinks, "Links"},
	{dissect.GroupAddresses, "Email addresses"},
}

// tally counts, per group, the sources examined and the sources with at
// least one resolved candidate.
type tally struct {
	sources map[string]map[int]bool
}

func newTally() *tally {
	return &tally{sources: make(map[string]map[int]bool)}
}

func (t *tally) add(c dissect.Candidate, resolved bool) {
	g := t.sources[c.Group]
	if g == nil {
		g = make(map[int]bool)
		t.sources[c.Group] = g
	}
	g[c.Seq] = g[c.Seq] || resolved
}

func (t *tally) lines() []string {
	var out []string
	for _, gl := range groupLabels {
		g := t.sources[gl.group]
		count := 0
		for _, hit := range g {
			if hit {
				count++
			}
		}
		if count > 0 {
			out = append(out, fmt.Sprintf("%s (%d/%d)", gl.label, count, len(g)))
		}
	}
	return out
}
