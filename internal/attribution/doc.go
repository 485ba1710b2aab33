// Package attribution splits credit and reward among agents that jointly
// produced an outcome.
//
// Tracker keeps a bounded ledger of per-agent quality deltas. Shaper maps a
// single contribution score onto a reward curve. Engine approximates each
// agent's Shapley value by sampling join orders over a probabilistic-OR
// coalition value, v(S) = 1 - prod(1 - s_i), and splits the reward pool in
// proportion. Rewards for a task always sum to the pool; the agent that
// sorts last absorbs floating point residue.
package attribution
