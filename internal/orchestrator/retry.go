package orchestrator

// #region imports
import (
	"context"
	"errors"

	"github.com/danielpatrickdp/knowledge-state/internal/bayesnet"
	"github.com/danielpatrickdp/knowledge-state/internal/gate"
)

// #endregion

// #region rungs

// Rung is one step of the convergence ladder.
type Rung string

const (
	RungDamped Rung = "damped" // stronger damping, more iterations
	RungExact  Rung = "exact"  // variable elimination when the gate can afford it
	RungAccept Rung = "accept" // keep the last beliefs, flagged unconverged
)

const (
	dampedFloor      = 0.5
	iterationsFactor = 4
)

// #endregion

// #region ladder

// Ladder is an approximate backend that escalates when loopy propagation does
// not converge: first a damped retry, then exact inference if affordable, else
// the damped beliefs are returned with bayesnet.ErrNotConverged.
type Ladder struct {
	base   *bayesnet.Approximate
	damped *bayesnet.Approximate
	exact  bayesnet.Backend
	gate   *gate.Gate
}

// NewLadder creates a ladder over loopy propagation with the given settings.
func NewLadder(config bayesnet.LoopyConfig, exact bayesnet.Backend, g *gate.Gate) *Ladder {
	damped := config
	damped.Damping = max(config.Damping, dampedFloor)
	damped.MaxIterations = config.MaxIterations * iterationsFactor
	return &Ladder{
		base:   bayesnet.NewApproximate(config),
		damped: bayesnet.NewApproximate(damped),
		exact:  exact,
		gate:   g,
	}
}

func (l *Ladder) Name() string { return "approximate" }

// #endregion

// #region escalate

// Marginals runs the ladder for a posterior query.
func (l *Ladder) Marginals(ctx context.Context, net *bayesnet.Network, ev bayesnet.Evidence) (bayesnet.Posterior, error) {
	return escalate(ctx, l, net, func(b bayesnet.Backend) (bayesnet.Posterior, error) {
		return b.Marginals(ctx, net, ev)
	})
}

// Joint runs the ladder for a joint query.
func (l *Ladder) Joint(ctx context.Context, net *bayesnet.Network, ev bayesnet.Evidence, vars []int) (*bayesnet.Factor, error) {
	return escalate(ctx, l, net, func(b bayesnet.Backend) (*bayesnet.Factor, error) {
		return b.Joint(ctx, net, ev, vars)
	})
}

// Next returns the rung after a non-converged attempt on net.
func (l *Ladder) Next(tried []Rung, net *bayesnet.Network) Rung {
	if len(tried) == 0 {
		return RungDamped
	}
	if tried[len(tried)-1] == RungDamped && l.gate.Affordable(net.DAG(), net.K()) {
		return RungExact
	}
	return RungAccept
}

// escalate reports the exact backend through bayesnet.Answered when it answers.
func escalate[T any](ctx context.Context, l *Ladder, net *bayesnet.Network, query func(bayesnet.Backend) (T, error)) (T, error) {
	res, err := query(l.base)
	var tried []Rung
	for errors.Is(err, bayesnet.ErrNotConverged) {
		rung := l.Next(tried, net)
		tried = append(tried, rung)
		ladderTotal.WithLabelValues(string(rung)).Inc()
		switch rung {
		case RungDamped:
			res, err = query(l.damped)
		case RungExact:
			bayesnet.Answered(ctx, l.exact.Name())
			return query(l.exact)
		default:
			return res, err
		}
	}
	return res, err
}

// #endregion
