package main

import (
	"fmt"
	"image"
	"math"

	"github.com/fogleman/gg"
)

const (
	plotWidth   = 1200
	panelHeight = 260
	margin      = 50
)

type rgb struct{ r, g, b float64 }

var (
	colourIntent   = rgb{0.6, 0.6, 0.6}
	colourShaped   = rgb{0.1, 0.4, 0.9}
	colourMeasured = rgb{0.1, 0.7, 0.2}
	colourSetpoint = rgb{0.9, 0.2, 0.1}
	colourHold     = rgb{1, 0.9, 0.6}
	colourStopped  = rgb{0.9, 0.9, 0.9}
)

type series struct {
	name   string
	colour rgb
	dashed bool
	value  func(Sample) float64
}

// Render draws the linear X, linear Y and heading panels.  Periods with
// heading hold engaged are shaded yellow and stopped periods grey.
func Render(samples []Sample) image.Image {
	panels := []struct {
		title  string
		series []series
	}{
		{"vx (m/s)", []series{
			{"intent", colourIntent, false, func(s Sample) float64 { return s.Intent.VX }},
			{"shaped", colourShaped, false, func(s Sample) float64 { return s.Result.Shaped.VX }},
			{"measured", colourMeasured, false, func(s Sample) float64 { return s.Measured.VX }},
		}},
		{"vy (m/s)", []series{
			{"intent", colourIntent, false, func(s Sample) float64 { return s.Intent.VY }},
			{"shaped", colourShaped, false, func(s Sample) float64 { return s.Result.Shaped.VY }},
			{"measured", colourMeasured, false, func(s Sample) float64 { return s.Measured.VY }},
		}},
		{"heading (deg)", []series{
			{"facing", colourMeasured, false, func(s Sample) float64 { return s.Facing * 180 / math.Pi }},
			{"setpoint", colourSetpoint, true, func(s Sample) float64 { return s.Result.Setpoint * 180 / math.Pi }},
		}},
	}

	dc := gg.NewContext(plotWidth, panelHeight*len(panels))
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	for i, p := range panels {
		dc.Push()
		dc.Translate(0, float64(i*panelHeight))
		drawPanel(dc, p.title, samples, p.series)
		dc.Pop()
	}
	return dc.Image()
}

func drawPanel(dc *gg.Context, title string, samples []Sample, lines []series) {
	if len(samples) == 0 {
		return
	}
	w := float64(plotWidth - 2*margin)
	h := float64(panelHeight - 2*margin)
	t0, t1 := samples[0].T, samples[len(samples)-1].T
	lo, hi := valueRange(samples, lines)
	x := func(t float64) float64 { return margin + (t-t0)/(t1-t0+1e-9)*w }
	y := func(v float64) float64 { return margin + h - (v-lo)/(hi-lo)*h }

	// Shade the shaper state behind the traces.
	step := w / float64(len(samples))
	for _, s := range samples {
		switch {
		case s.Result.Stopped:
			dc.SetRGB(colourStopped.r, colourStopped.g, colourStopped.b)
		case s.Result.HeadingHold:
			dc.SetRGB(colourHold.r, colourHold.g, colourHold.b)
		default:
			continue
		}
		dc.DrawRectangle(x(s.T)-step, margin, step+1, h)
		dc.Fill()
	}

	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(1)
	dc.DrawRectangle(margin, margin, w, h)
	dc.Stroke()
	if lo < 0 && hi > 0 {
		dc.SetRGBA(0, 0, 0, 0.3)
		dc.DrawLine(margin, y(0), margin+w, y(0))
		dc.Stroke()
	}
	dc.SetRGB(0, 0, 0)
	dc.DrawString(title, margin, margin-10)
	dc.DrawStringAnchored(fmt.Sprintf("%.2f", hi), margin-5, margin, 1, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.2f", lo), margin-5, margin+h, 1, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.1fs", t1), margin+w, margin+h+15, 1, 0.5)

	for i, l := range lines {
		dc.SetRGB(l.colour.r, l.colour.g, l.colour.b)
		dc.SetLineWidth(2)
		if l.dashed {
			dc.SetDash(6, 4)
		} else {
			dc.SetDash()
		}
		for j, s := range samples {
			if j == 0 {
				dc.MoveTo(x(s.T), y(l.value(s)))
				continue
			}
			dc.LineTo(x(s.T), y(l.value(s)))
		}
		dc.Stroke()
		dc.SetDash()
		dc.DrawString(l.name, margin+w-200+float64(i)*70, margin-10)
	}
}

// valueRange spans every series with a little headroom, and is never empty.
func valueRange(samples []Sample, lines []series) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		for _, l := range lines {
			v := l.value(s)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if hi-lo < 1e-6 {
		lo, hi = lo-1, hi+1
	}
	pad := (hi - lo) * 0.05
	return lo - pad, hi + pad
}
