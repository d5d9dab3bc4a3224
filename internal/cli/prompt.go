package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"shapegroom/internal/models"
	"shapegroom/pkg/config"
	"shapegroom/pkg/failure"
	"shapegroom/pkg/geometry"
	"shapegroom/pkg/workflow"
)

// PromptSelector asks for the cutting plane on the terminal: first the
// sample to pick it on, then the nine coordinates of three points in that
// sample's original frame.
type PromptSelector struct {
	In  *bufio.Reader
	Out io.Writer
}

// SelectPlane implements workflow.PlaneSelector.
func (p *PromptSelector) SelectPlane(ctx context.Context, samples []*models.Sample) (workflow.Selection, error) {
	if len(samples) == 0 {
		return workflow.Selection{}, failure.Missingf("no samples to pick a cutting plane on")
	}
	fmt.Fprintln(p.Out, "Samples:")
	for i, s := range samples {
		fmt.Fprintf(p.Out, "  %2d) %s\n", i+1, s.ID)
	}

	var sample *models.Sample
	for sample == nil {
		if err := ctx.Err(); err != nil {
			return workflow.Selection{}, err
		}
		answer, err := p.ask("Sample for the cutting plane (number or ID prefix): ")
		if err != nil {
			return workflow.Selection{}, err
		}
		if sample = pick(samples, answer); sample == nil {
			_, _ = warningColor.Fprintf(p.Out, "No unique sample matches %q\n", answer)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return workflow.Selection{}, err
		}
		answer, err := p.ask("Three points as x1 y1 z1 x2 y2 z2 x3 y3 z3: ")
		if err != nil {
			return workflow.Selection{}, err
		}
		plane, err := parsePlane(answer)
		if err != nil {
			_, _ = warningColor.Fprintf(p.Out, "%v\n", err)
			continue
		}
		return workflow.Selection{Sample: sample.ID, Frame: config.FrameOriginal, Plane: plane}, nil
	}
}

func (p *PromptSelector) ask(prompt string) (string, error) {
	fmt.Fprint(p.Out, prompt)
	line, err := p.In.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", failure.Missingf("no answer on standard input")
	}
	return strings.TrimSpace(line), nil
}

// pick resolves a 1-based index or a unique ID prefix.
func pick(samples []*models.Sample, answer string) *models.Sample {
	if answer == "" {
		return nil
	}
	if n, err := strconv.Atoi(answer); err == nil {
		if n >= 1 && n <= len(samples) {
			return samples[n-1]
		}
		return nil
	}
	var match *models.Sample
	for _, s := range samples {
		if s.ID == answer {
			return s
		}
		if strings.HasPrefix(s.ID, answer) {
			if match != nil {
				return nil
			}
			match = s
		}
	}
	return match
}

func parsePlane(s string) (geometry.PlanePoints, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return geometry.PlanePoints{}, fmt.Errorf("invalid coordinate %q", f)
		}
		values = append(values, v)
	}
	plane, err := geometry.PlaneFromSlice(values)
	if err != nil {
		return geometry.PlanePoints{}, err
	}
	if _, err := plane.Normal(); err != nil {
		return geometry.PlanePoints{}, err
	}
	return plane, nil
}

// waitForEnter blocks until a line is read. End of input does not block.
func waitForEnter(out io.Writer, in *bufio.Reader) {
	_, _ = dimColor.Fprint(out, "Press Enter to continue...")
	_, _ = in.ReadString('\n')
	fmt.Fprintln(out)
}
