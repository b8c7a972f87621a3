package transcribe_test

import (
	"context"
	"math"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/fumes/internal/dynamo"
	"github.com/san-kum/fumes/internal/expr"
	"github.com/san-kum/fumes/internal/furnace"
	"github.com/san-kum/fumes/internal/integrators"
	"github.com/san-kum/fumes/internal/nlp"
	"github.com/san-kum/fumes/internal/transcribe"
)

func TestTranscribe(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Transcribe Suite")
}

func sampleParams() furnace.Parameters {
	return furnace.Parameters{
		Moles:              3000,
		BoilerStartTime:    0,
		BoilerResponseTime: 100,
		BoilerCapacity:     17,
		Sharpness:          50,
		TimeStep:           15,
		Initial:            furnace.Composition{Water: 0.001, Hydrogen: 0.05, CarbonMonoxide: 1e-4},
		InitialBoiler:      0.5,
		SourceOne:          furnace.Composition{Water: 4e-5, Hydrogen: 0.05},
		SourceTwo:          furnace.Composition{Water: 4e-5, Hydrogen: 0.005},
		FlowOne:            300,
		FlowTwo:            100,
		TotalFlowMin:       100,
		TotalFlowMax:       500,
		CompositionMin:     furnace.Composition{Hydrogen: 0.045},
		CompositionMax:     furnace.Composition{Water: 0.017, Hydrogen: 0.065, CarbonMonoxide: 0.01},
		BoilerPenalty:      0.1,
		MixPenalty:         1e-5,
		FlowPenalty:        5e-4,
		Segments: []furnace.Segment{
			{Duration: 90, TargetWater: 0.002, Reduction: 0.01, Oxidation: 0.01, Decarburization: 0.01},
			{Duration: 60, TargetWater: 0.003, Reduction: 0.01, Oxidation: 5, Decarburization: 10},
		},
		CompensateFlow:          true,
		OptimizeFlow:            true,
		ConstrainHydrogen:       true,
		ConstrainCarbonMonoxide: true,
	}
}

type built struct {
	model *furnace.Model
	F     *expr.Function
	tr    *transcribe.Transcriber
}

func build(p furnace.Parameters) built {
	GinkgoHelper()
	m, err := furnace.NewModel(expr.NewGraph(), p)
	Expect(err).NotTo(HaveOccurred())
	F, err := integrators.NewRK4(p.SubStepCount()).Transition(m.RHS(), p.TimeStep,
		integrators.SquaredTracking(m.TargetAt, dynamo.Water))
	Expect(err).NotTo(HaveOccurred())
	tr, err := transcribe.New(m, F)
	Expect(err).NotTo(HaveOccurred())
	return built{model: m, F: F, tr: tr}
}

// forwardGuess integrates the transition with the initial controls held.
func forwardGuess(b built) []float64 {
	GinkgoHelper()
	p := b.model.Parameters()
	l := b.tr.Layout()

	prog, err := expr.Compile(expr.Concat(b.model.Inputs()...), b.F.Outputs()[0]...)
	Expect(err).NotTo(HaveOccurred())

	u0 := p.InitialControl()
	states := []dynamo.State{p.InitialState()}
	controls := make([]dynamo.Control, 0, l.Steps)
	for k := 0; k < l.Steps; k++ {
		in := []float64{float64(k) * p.TimeStep}
		in = append(in, states[k]...)
		in = append(in, u0...)
		in = append(in, furnace.Steam.Slice()...)
		in = append(in, p.SourceOne.Slice()...)
		in = append(in, p.SourceTwo.Slice()...)
		next := make(dynamo.State, dynamo.StateDim)
		prog.Eval(in, next)
		states = append(states, next)
		controls = append(controls, u0.Clone())
	}
	x, err := l.Pack(states, controls)
	Expect(err).NotTo(HaveOccurred())
	return x
}

// echoSolver returns the initial guess clamped into the bounds.
type echoSolver struct{}

func (echoSolver) Solve(_ context.Context, p *nlp.Problem) (*nlp.Solution, error) {
	x := make([]float64, len(p.X))
	for i := range x {
		x[i] = math.Max(p.LBX[i], math.Min(p.UBX[i], p.X0[i]))
	}
	return &nlp.Solution{X: x, Status: nlp.StatusSucceeded}, nil
}

func evaluate(p *nlp.Problem, x []float64) (float64, []float64) {
	GinkgoHelper()
	prog, err := expr.Compile(p.X, append([]expr.Expr{p.F}, p.G...)...)
	Expect(err).NotTo(HaveOccurred())
	out := make([]float64, 1+len(p.G))
	prog.Eval(x, out)
	return out[0], out[1:]
}

var _ = Describe("Layout", func() {
	l := transcribe.NewLayout(3)

	It("interleaves states and controls with a trailing state", func() {
		Expect(l.Stride()).To(Equal(7))
		Expect(l.Len()).To(Equal(3*7 + 4))
		Expect(l.StateOffset(2)).To(Equal(14))
		Expect(l.ControlOffset(2)).To(Equal(18))
		Expect(l.Constraints()).To(Equal(12))
	})

	It("names variables by role", func() {
		Expect(l.Name(0)).To(Equal("y0.water"))
		Expect(l.Name(4)).To(Equal("v0"))
		Expect(l.Name(7 + 6)).To(Equal("q1"))
		Expect(l.Name(21 + 3)).To(Equal("y3.boiler"))
	})

	It("rejects mismatched guesses", func() {
		_, err := l.Pack(make([]dynamo.State, 3), make([]dynamo.Control, 3))
		Expect(err).To(MatchError(dynamo.ErrDimensionMismatch))
	})
})

var _ = Describe("Transcriber", func() {
	var p furnace.Parameters

	BeforeEach(func() {
		p = sampleParams()
	})

	It("adds one extra step over the horizon", func() {
		b := build(p)
		Expect(b.tr.Layout().Steps).To(Equal(11))

		prob, err := b.tr.Build(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(prob.X).To(HaveLen(b.tr.Layout().Len()))
		Expect(prob.LBX).To(HaveLen(len(prob.X)))
		Expect(prob.UBX).To(HaveLen(len(prob.X)))
		Expect(prob.X0).To(HaveLen(len(prob.X)))
		Expect(prob.G).To(HaveLen(11 * dynamo.StateDim))
	})

	It("pins the first node to the initial state", func() {
		lbx, ubx, err := build(p).tr.Bounds()
		Expect(err).NotTo(HaveOccurred())
		y0 := p.InitialState()
		for i := 0; i < dynamo.StateDim; i++ {
			Expect(lbx[i]).To(Equal(y0[i]))
			Expect(ubx[i]).To(Equal(y0[i]))
		}
	})

	It("bounds free controls and later states by the physical limits", func() {
		b := build(p)
		lbx, ubx, err := b.tr.Bounds()
		Expect(err).NotTo(HaveOccurred())
		l := b.tr.Layout()

		c := l.ControlOffset(4)
		Expect(lbx[c : c+3]).To(Equal([]float64{0, 0, 100}))
		Expect(ubx[c : c+3]).To(Equal([]float64{17, 1, 500}))

		s := l.StateOffset(5)
		Expect(lbx[s : s+4]).To(Equal([]float64{0, 0.045, 0, 0}))
		Expect(ubx[s : s+4]).To(Equal([]float64{0.017, 0.065, 0.01, 17}))
	})

	It("widens species bounds when their constraints are off", func() {
		p.ConstrainHydrogen = false
		p.ConstrainCarbonMonoxide = false
		b := build(p)
		lbx, ubx, err := b.tr.Bounds()
		Expect(err).NotTo(HaveOccurred())

		s := b.tr.Layout().StateOffset(1)
		Expect(lbx[s+dynamo.Hydrogen]).To(Equal(0.0))
		Expect(ubx[s+dynamo.Hydrogen]).To(Equal(1.0))
		Expect(lbx[s+dynamo.CarbonMonoxide]).To(Equal(0.0))
		Expect(ubx[s+dynamo.CarbonMonoxide]).To(Equal(1.0))
	})

	DescribeTable("pins disabled controls to their initial values",
		func(modify func(*furnace.Parameters), idx int) {
			modify(&p)
			b := build(p)
			prob, err := b.tr.Build(forwardGuess(b))
			Expect(err).NotTo(HaveOccurred())

			sol, err := echoSolver{}.Solve(context.Background(), prob)
			Expect(err).NotTo(HaveOccurred())

			want := p.InitialControl()[idx]
			l := b.tr.Layout()
			for k := 0; k < l.Steps; k++ {
				i := l.ControlOffset(k) + idx
				Expect(prob.LBX[i]).To(Equal(want))
				Expect(prob.UBX[i]).To(Equal(want))
				Expect(sol.X[i]).To(Equal(want))
			}
		},
		Entry("integrate only", func(p *furnace.Parameters) { p.IntegrateOnly = true }, dynamo.BoilerCommand),
		Entry("fixed mixing", func(p *furnace.Parameters) { p.CompensateFlow = false }, dynamo.MixRatio),
		Entry("fixed total flow", func(p *furnace.Parameters) { p.OptimizeFlow = false }, dynamo.TotalFlow),
	)

	It("reports inverted flow limits eagerly", func() {
		p.TotalFlowMin, p.TotalFlowMax = 600, 100
		b := build(p)
		nodes := b.model.Graph().Len()

		_, err := b.tr.Build(nil)
		var be *dynamo.InvalidBoundsError
		Expect(err).To(BeAssignableToTypeOf(be))
		Expect(err).To(MatchError(dynamo.ErrInvalidBounds))
		Expect(err.(*dynamo.InvalidBoundsError).Name).To(Equal("q0"))
		Expect(b.model.Graph().Len()).To(Equal(nodes), "no expressions are built before the bounds check")
	})

	It("ignores inverted flow limits while the flow is pinned", func() {
		p.TotalFlowMin, p.TotalFlowMax = 600, 100
		p.OptimizeFlow = false
		_, err := build(p).tr.Build(nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("satisfies continuity along a forward simulation", func() {
		b := build(p)
		guess := forwardGuess(b)
		prob, err := b.tr.Build(guess)
		Expect(err).NotTo(HaveOccurred())

		f, g := evaluate(prob, guess)
		Expect(f).To(BeNumerically(">=", 0))
		for _, r := range g {
			Expect(math.Abs(r)).To(BeNumerically("<", 1e-12))
		}
	})

	It("drops control penalties on pinned controls", func() {
		p.IntegrateOnly = true
		p.CompensateFlow = false
		p.OptimizeFlow = false

		b := build(p)
		guess := forwardGuess(b)
		prob, err := b.tr.Build(guess)
		Expect(err).NotTo(HaveOccurred())
		withPenalties, _ := evaluate(prob, guess)

		p.BoilerPenalty, p.MixPenalty, p.FlowPenalty = 0, 0, 0
		b2 := build(p)
		prob2, err := b2.tr.Build(guess)
		Expect(err).NotTo(HaveOccurred())
		pure, _ := evaluate(prob2, guess)

		Expect(withPenalties).To(Equal(pure))
	})

	It("penalizes changes of free controls", func() {
		b := build(p)
		guess := forwardGuess(b)
		prob, err := b.tr.Build(guess)
		Expect(err).NotTo(HaveOccurred())
		base, _ := evaluate(prob, guess)

		bumped := append([]float64(nil), guess...)
		l := b.tr.Layout()
		bumped[l.ControlOffset(l.Steps-1)+dynamo.TotalFlow] += 10
		f, _ := evaluate(prob, bumped)

		// Only the flow penalty and the last tracking term see the last control.
		Expect(f - base).To(BeNumerically(">=", p.FlowPenalty*100*0.99))
	})

	It("is deterministic", func() {
		guess := forwardGuess(build(p))

		a, err := build(p).tr.Build(guess)
		Expect(err).NotTo(HaveOccurred())
		b, err := build(p).tr.Build(guess)
		Expect(err).NotTo(HaveOccurred())

		fa, ga := evaluate(a, guess)
		fb, gb := evaluate(b, guess)
		Expect(fa).To(Equal(fb))
		Expect(ga).To(Equal(gb))
	})
})
