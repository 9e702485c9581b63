// Package demo is a built-in producer for the stream: an animated test
// pattern plus a synthetic spectrum, steered by client commands.
//
// A Pattern implements transport.Source, transport.SpectrumSource and
// transport.CommandHandler, so one value wires the whole producer side:
//
//	p := demo.New(demo.Config{Geometry: geom, Bands: 16})
//	srv := transport.New(cfg, p)
//	srv.SetSpectrumSource(p)
//	srv.SetCommandHandler(p)
package demo

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/vango-dev/lumenstream/pkg/protocol"
	"github.com/vango-dev/lumenstream/pkg/transport"
)

// Effect ids accepted by SetEffect.
const (
	EffectSolid    uint32 = 0 // whole matrix in the current color
	EffectGradient uint32 = 1 // horizontal gradient scrolling over time
	EffectBars     uint32 = 2 // spectrum bars, one column group per band
	EffectChase    uint32 = 3 // single lit column sweeping left to right
)

// Color modes accepted by SetColorMode.
const (
	ModeCustom  = "custom"
	ModeRainbow = "rainbow"
	ModeMono    = "mono"
)

// Parameter names accepted by SetParameter.
const (
	ParamSpeed      = "speed"
	ParamBrightness = "brightness"
)

// Config configures a Pattern.
type Config struct {
	// Geometry is the matrix shape. Required.
	Geometry protocol.Geometry

	// Bands is the number of spectrum bands. 0 disables the spectrum.
	Bands int

	// Logger receives command diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Now is the animation clock. Default: time.Now.
	Now func() time.Time
}

// State is the current effect selection.
type State struct {
	Effect     uint32  `json:"effect"`
	Mode       string  `json:"mode"`
	R          float32 `json:"r"`
	G          float32 `json:"g"`
	B          float32 `json:"b"`
	Speed      float64 `json:"speed"`
	Brightness float64 `json:"brightness"`
	Commands   uint64  `json:"commands"`
	Rejected   uint64  `json:"rejected"`
}

// Pattern is an animated test-pattern producer.
type Pattern struct {
	geometry protocol.Geometry
	bands    int
	logger   *slog.Logger
	now      func() time.Time
	start    time.Time

	mu    sync.Mutex
	state State
}

var (
	_ transport.Source         = (*Pattern)(nil)
	_ transport.SpectrumSource = (*Pattern)(nil)
	_ transport.CommandHandler = (*Pattern)(nil)
)

// New creates a Pattern showing a rainbow gradient.
func New(config Config) *Pattern {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Pattern{
		geometry: config.Geometry,
		bands:    config.Bands,
		logger:   config.Logger.With("component", "demo"),
		now:      config.Now,
		start:    config.Now(),
		state: State{
			Effect:     EffectGradient,
			Mode:       ModeRainbow,
			R:          1,
			G:          1,
			B:          1,
			Speed:      1,
			Brightness: 1,
		},
	}
}

// State returns a copy of the current selection.
func (p *Pattern) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// HandleCommand implements transport.CommandHandler.
func (p *Pattern) HandleCommand(from net.Addr, cmd protocol.Command) {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.applyLocked(cmd)
	if err != nil {
		p.state.Rejected++
		p.logger.Debug("command rejected", "addr", from.String(), "command", cmd.ID().String(), "error", err)
		return
	}
	p.state.Commands++
	p.logger.Info("command applied", "addr", from.String(), "command", cmd.ID().String())
}

func (p *Pattern) applyLocked(cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.SetEffect:
		if c.EffectID > EffectChase {
			return fmt.Errorf("unknown effect %d", c.EffectID)
		}
		p.state.Effect = c.EffectID
	case protocol.SetColorMode:
		switch c.Mode {
		case ModeCustom, ModeRainbow, ModeMono:
			p.state.Mode = c.Mode
		default:
			return fmt.Errorf("unknown color mode %q", c.Mode)
		}
	case protocol.SetCustomColor:
		p.state.R, p.state.G, p.state.B = clamp01(c.R), clamp01(c.G), clamp01(c.B)
		p.state.Mode = ModeCustom
	case protocol.SetParameter:
		v, err := strconv.ParseFloat(c.Value, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parameter %s: invalid value %q", c.Name, c.Value)
		}
		switch c.Name {
		case ParamSpeed:
			p.state.Speed = math.Max(0, math.Min(v, 10))
		case ParamBrightness:
			p.state.Brightness = math.Max(0, math.Min(v, 1))
		default:
			return fmt.Errorf("unknown parameter %q", c.Name)
		}
	default:
		return fmt.Errorf("unsupported command %s", cmd.ID())
	}
	return nil
}

// Frame implements transport.Source.
func (p *Pattern) Frame() transport.FrameState {
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()

	g := p.geometry
	w, h := int(g.Width), int(g.Height)
	pixels := make([]byte, g.FrameSize())
	phase := p.elapsed() * st.Speed

	var spectrum []float32
	if st.Effect == EffectBars {
		spectrum = p.bandsAt(phase, max(p.bands, 1))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var level float64
			switch st.Effect {
			case EffectSolid, EffectGradient:
				level = 1
			case EffectBars:
				band := x * len(spectrum) / w
				if float64(h-y) <= float64(spectrum[band])*float64(h) {
					level = 1
				}
			case EffectChase:
				if x == int(phase*float64(w))%w {
					level = 1
				}
			}
			if level == 0 {
				continue
			}
			hue := phase * 0.25
			if st.Effect != EffectSolid {
				hue += float64(x) / float64(w)
			}
			r, gr, b := st.color(hue)
			scale := level * st.Brightness
			i := (y*w + x) * 3
			pixels[i] = byte(r * scale * 255)
			pixels[i+1] = byte(gr * scale * 255)
			pixels[i+2] = byte(b * scale * 255)
		}
	}
	return transport.FrameState{Geometry: g, Pixels: pixels}
}

// Spectrum implements transport.SpectrumSource. It returns nil when bands
// are disabled.
func (p *Pattern) Spectrum() []float32 {
	if p.bands <= 0 {
		return nil
	}
	p.mu.Lock()
	speed := p.state.Speed
	p.mu.Unlock()
	return p.bandsAt(p.elapsed()*speed, p.bands)
}

func (p *Pattern) elapsed() float64 {
	return p.now().Sub(p.start).Seconds()
}

// bandsAt synthesizes n magnitudes in [0, 1]: a falling slope from bass to
// treble modulated by slow per-band oscillation.
func (p *Pattern) bandsAt(phase float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		slope := 1 - float64(i)/float64(n+1)
		wave := 0.5 + 0.5*math.Sin(phase*2*math.Pi*(0.5+0.1*float64(i))+float64(i))
		out[i] = float32(slope * wave)
	}
	return out
}

func (s State) color(hue float64) (r, g, b float64) {
	switch s.Mode {
	case ModeCustom:
		return float64(s.R), float64(s.G), float64(s.B)
	case ModeMono:
		return 1, 1, 1
	default:
		return hueToRGB(hue)
	}
}

// hueToRGB maps a hue in turns to a fully saturated color.
func hueToRGB(hue float64) (r, g, b float64) {
	hue -= math.Floor(hue)
	sector := hue * 6
	f := sector - math.Floor(sector)
	switch int(sector) {
	case 0:
		return 1, f, 0
	case 1:
		return 1 - f, 1, 0
	case 2:
		return 0, 1, f
	case 3:
		return 0, 1 - f, 1
	case 4:
		return f, 0, 1
	default:
		return 1, 0, 1 - f
	}
}

func clamp01(v float32) float32 {
	if math.IsNaN(float64(v)) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
