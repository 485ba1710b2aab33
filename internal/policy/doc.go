// Package policy decides, per incoming task, whether an agent should replay a
// stored experience (exploit) or attempt a fresh solution (explore).
//
// A stored experience qualifies for reuse when its similarity to the task,
// its quality score, and its observed reuse success rate all clear the
// configured thresholds. Even then the policy exploits only with probability
// ExploitRatio, so stale solutions keep being challenged.
//
// Reuse success is tracked per experience as a Beta posterior mean with a
// uniform prior. The stored trajectory's own outcome counts as the first
// observation, so an unreused successful experience starts at 2/3 and a
// failed one at 1/3.
package policy
