package qubo

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/qfolio/qfolio/internal/config"
	"github.com/qfolio/qfolio/internal/domain"
	"github.com/rs/zerolog"
)

// runPhase is the explicit state of a single annealing run.
type runPhase int

const (
	phaseInitialize runPhase = iota
	phaseCool
	phaseTerminate
	phaseDone
)

// Annealer is a best-effort simulated annealing solver for QUBO
// problems. Each run is a finite state machine
// Initialize → Cool (with Metropolis accept/reject) → Terminate; R
// independent reads run concurrently on isolated random states and the
// lowest-energy result wins. With a fixed seed results are reproducible;
// without one the selection size may drift from the target by a small
// margin, which callers repair via Repair.
type Annealer struct {
	cfg config.AnnealerConfig
	log zerolog.Logger
}

// NewAnnealer creates a new simulated annealing solver.
func NewAnnealer(cfg config.AnnealerConfig, log zerolog.Logger) *Annealer {
	return &Annealer{
		cfg: cfg,
		log: log.With().Str("component", "annealer").Logger(),
	}
}

// Solve performs the configured number of independent reads and returns
// the best selection seen. The problem is consumed once; the reads share
// no mutable state and synchronize only on the final minimum-energy merge.
func (a *Annealer) Solve(ctx context.Context, p *domain.QUBOProblem) (*domain.Selection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reads := a.cfg.Reads
	if reads < 1 {
		reads = 1
	}

	results := make([]*domain.Selection, reads)
	var wg sync.WaitGroup
	for r := 0; r < reads; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(a.readSeed(r)))
			results[r] = a.anneal(p, rng)
		}(r)
	}
	wg.Wait()

	best := results[0]
	for _, res := range results[1:] {
		if res.Energy < best.Energy {
			best = res
		}
	}

	a.log.Info().
		Int("reads", reads).
		Float64("energy", best.Energy).
		Int("selected", best.Count()).
		Int("target", p.Target).
		Msg("Annealing complete")

	return best, nil
}

// readSeed derives the per-read seed. A zero configured seed makes runs
// nondeterministic; any other value makes them reproducible.
func (a *Annealer) readSeed(read int) int64 {
	if a.cfg.Seed != 0 {
		return a.cfg.Seed + int64(read)
	}
	return time.Now().UnixNano() + int64(read)*7919
}

// anneal executes one read as an explicit state machine.
func (a *Annealer) anneal(p *domain.QUBOProblem, rng *rand.Rand) *domain.Selection {
	n := len(p.Assets)
	var (
		state     []int
		energy    float64
		best      []int
		bestE     float64
		coolStep  int
		phase     = phaseInitialize
		coolRatio = math.Pow(a.cfg.TEnd/a.cfg.TStart, 1/math.Max(1, float64(a.cfg.Steps-1)))
	)

	for phase != phaseDone {
		switch phase {
		case phaseInitialize:
			state = make([]int, n)
			for i := range state {
				state[i] = rng.Intn(2)
			}
			energy = Energy(p, state)
			best = append([]int(nil), state...)
			bestE = energy
			phase = phaseCool

		case phaseCool:
			temp := a.cfg.TStart * math.Pow(coolRatio, float64(coolStep))
			for m := 0; m < a.cfg.Sweeps; m++ {
				i := rng.Intn(n)
				delta := flipDelta(p, state, i)
				// Metropolis accept/reject: always downhill, uphill
				// with probability exp(-Δ/T).
				if delta < 0 || rng.Float64() < math.Exp(-delta/temp) {
					state[i] = 1 - state[i]
					energy += delta
					if energy < bestE {
						bestE = energy
						copy(best, state)
					}
				}
			}
			coolStep++
			if coolStep >= a.cfg.Steps || temp <= a.cfg.TEnd {
				phase = phaseTerminate
			}

		case phaseTerminate:
			phase = phaseDone
		}
	}

	return &domain.Selection{Assets: p.Assets, Bits: best, Energy: bestE}
}

// flipDelta computes the energy change of flipping bit i in place.
func flipDelta(p *domain.QUBOProblem, state []int, i int) float64 {
	// Contribution of bit i given the rest of the state.
	contrib := p.Q[i][i]
	for j := range state {
		if j == i || state[j] == 0 {
			continue
		}
		if i < j {
			contrib += p.Q[i][j]
		} else {
			contrib += p.Q[j][i]
		}
	}
	if state[i] == 1 {
		return -contrib
	}
	return contrib
}

// Repair adjusts a selection to exactly the target count by greedily
// flipping the lowest-impact bits: when over target it drops the set
// bit whose removal reduces energy the most, when under target it adds
// the unset bit with the smallest energy increase.
func Repair(p *domain.QUBOProblem, sel *domain.Selection) *domain.Selection {
	bits := append([]int(nil), sel.Bits...)
	energy := Energy(p, bits)

	for count := countOnes(bits); count != p.Target; count = countOnes(bits) {
		var (
			bestIdx   = -1
			bestDelta = math.Inf(1)
			want      int
		)
		if count > p.Target {
			want = 1 // flip a set bit off
		} else {
			want = 0 // flip an unset bit on
		}
		for i, b := range bits {
			if b != want {
				continue
			}
			if delta := flipDelta(p, bits, i); delta < bestDelta {
				bestDelta = delta
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		bits[bestIdx] = 1 - bits[bestIdx]
		energy += bestDelta
	}

	return &domain.Selection{Assets: sel.Assets, Bits: bits, Energy: energy}
}

func countOnes(bits []int) int {
	n := 0
	for _, b := range bits {
		n += b
	}
	return n
}
