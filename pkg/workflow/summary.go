package workflow

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"shapegroom/pkg/grooming"
)

// renderSummary prints one row per groomed sample.
func renderSummary(w io.Writer, aligned *grooming.Result, res *GroomResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"SAMPLE", "SIDE", "DICE", "JACCARD", "TRANSFORMS", "DIMS"})
	for i, gs := range res.Samples {
		dice, jaccard := fmt.Sprintf("%.4f", gs.Dice), fmt.Sprintf("%.4f", gs.Jaccard)
		if gs.ID == res.Reference {
			dice, jaccard = "reference", ""
		}
		t.AppendRow(table.Row{
			gs.ID,
			gs.Side,
			dice,
			jaccard,
			aligned.Samples[i].Transforms().Len(),
			fmt.Sprintf("%dx%dx%d", res.Dims[0], res.Dims[1], res.Dims[2]),
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%.4f", aligned.Dice.Mean), "", "", "mean dice"})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}
