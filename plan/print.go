package plan

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Printing the plan out, for testing, debugging, visualization purpose etc ...

func stageColor(ty StageType) *color.Color {
	switch ty {
	case StageInMemorySource:
		return color.New(color.FgCyan)
	case StageJoin:
		return color.New(color.FgMagenta)
	case StageAggregate:
		return color.New(color.FgYellow)
	case StageLimit, StageWhere:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgWhite)
	}
}

// Explain renders the tree under root as an indented, colorized stage
// listing in depth-first order
func Explain(t *Tree, root NodeID) string {
	buf := &strings.Builder{}
	explainNode(t, root, 0, buf)
	return buf.String()
}

func explainNode(
	t *Tree,
	id NodeID,
	depth int,
	buf *strings.Builder,
) {
	s := t.Stage(id)
	buf.WriteString(strings.Repeat("  ", depth))
	buf.WriteString(fmt.Sprintf(
		"#%d %s [%s]\n",
		int(id),
		stageColor(s.Type).Sprint(s.Type.String()),
		s.Describe(),
	))
	for _, e := range t.Children(id) {
		buf.WriteString(strings.Repeat("  ", depth+1))
		buf.WriteString(fmt.Sprintf("<%s>\n", e.Slot))
		explainNode(t, e.Child, depth+2, buf)
	}
}
