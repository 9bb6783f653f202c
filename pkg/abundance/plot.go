package abundance

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// StackedBar draws one bar per time point with a layer per series and saves
// it to path; the image format follows the file extension.
func StackedBar(path, title string, series []Series, timePoints []string) error {
	if len(series) == 0 || len(timePoints) == 0 {
		return fmt.Errorf("nothing to plot for %s", title)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time point"
	p.Y.Label.Text = "Relative abundance"

	w := vg.Points(20)
	var below *plotter.BarChart
	for i, s := range series {
		b, err := plotter.NewBarChart(plotter.Values(s.Values), w)
		if err != nil {
			return fmt.Errorf("bar for %s: %w", s.Name, err)
		}
		b.LineStyle.Width = vg.Length(0)
		b.Color = plotutil.Color(i)
		if below != nil {
			b.StackOn(below)
		}
		p.Add(b)
		p.Legend.Add(s.Name, b)
		below = b
	}
	p.Legend.Top = true
	p.NominalX(timePoints...)

	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}
