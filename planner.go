// Copyright (C) 2022  Shanhu Tech Inc.
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the
// Free Software Foundation, either version 3 of the License, or (at your
// option) any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
// for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package upd

// targetState names the per-target lifecycle of §4.11's state machine.
type targetState int

const (
	stateUnseen targetState = iota
	statePending
	stateReady
	stateRunning
	stateUpToDate
	stateUpdated
	stateFailed
)

// updatePlan is the mutable planner state for one run: a FIFO ready
// queue of targets, pending-input counters, and the reverse index used
// to wake up descendants as their inputs complete (§4.10).
type updatePlan struct {
	um *updateMap

	states  map[string]targetState
	pending map[string]int // target -> number of not-yet-ready inputs that are themselves targets

	// reverse[input] lists every known target that lists input as one
	// of its own inputs, in the order those targets were first linked,
	// so wake-up order stays reproducible.
	reverse map[string][]string

	ready []string // FIFO queue of target paths ready to run
}

// buildPlan recursively expands every requested target (or every known
// target, if all is true) into an updatePlan, per §4.10.
func buildPlan(um *updateMap, requested []string, all bool) (*updatePlan, error) {
	p := &updatePlan{
		um:      um,
		states:  make(map[string]targetState),
		pending: make(map[string]int),
		reverse: make(map[string][]string),
	}

	roots := requested
	if all {
		roots = append([]string{}, um.order...)
	}

	for _, t := range roots {
		if _, ok := um.targets[t]; !ok {
			return nil, &unknownTargetError{target: t}
		}
		if err := p.expand(t); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// expand marks target (and everything in its input closure that is
// itself a known output) pending, counts how many of its inputs are
// themselves pending targets, links the reverse index, and enqueues it
// as ready once that count reaches zero.
func (p *updatePlan) expand(target string) error {
	if p.states[target] != stateUnseen {
		return nil
	}
	p.states[target] = statePending

	t := p.um.targets[target]
	count := 0
	for _, in := range t.inputs {
		if _, isTarget := p.um.targets[in]; !isTarget {
			continue // leaf source, not itself produced by a rule
		}
		if err := p.expand(in); err != nil {
			return err
		}
		if p.states[in] != stateUpToDate && p.states[in] != stateUpdated {
			count++
			p.reverse[in] = append(p.reverse[in], target)
		}
	}

	p.pending[target] = count
	if count == 0 {
		p.enqueueReady(target)
	}
	return nil
}

func (p *updatePlan) enqueueReady(target string) {
	p.states[target] = stateReady
	p.ready = append(p.ready, target)
}

// next draws the next ready target, FIFO, or reports false if the
// ready queue is currently empty.
func (p *updatePlan) next() (string, bool) {
	if len(p.ready) == 0 {
		return "", false
	}
	target := p.ready[0]
	p.ready = p.ready[1:]
	p.states[target] = stateRunning
	return target, true
}

// complete marks target with its terminal state and decrements the
// pending-input counters of every descendant linked against it in the
// reverse index, enqueuing any descendant whose counter reaches zero.
// A descendant with no pending counter at all is an internal
// invariant violation: the reverse index and the pending map are
// always built together.
func (p *updatePlan) complete(target string, final targetState) error {
	p.states[target] = final
	for _, descendant := range p.reverse[target] {
		n, ok := p.pending[descendant]
		if !ok {
			return &internalInvariantError{reason: "descendant " + descendant + " has no pending counter"}
		}
		n--
		p.pending[descendant] = n
		if n == 0 {
			p.enqueueReady(descendant)
		}
	}
	return nil
}

// done reports whether every target that was ever marked pending has
// reached a terminal state.
func (p *updatePlan) done() bool {
	for _, s := range p.states {
		if s != stateUpToDate && s != stateUpdated && s != stateFailed {
			return false
		}
	}
	return true
}
