// Package curiosity drives self-directed practice.
//
// QuestionEngine proposes practice tasks biased toward novel descriptions
// and under-explored domains. Trainer runs a budget-bounded epoch over those
// tasks: it calls an externally supplied Executor for each one, admits the
// good results into an experience.Buffer, and raises the coverage of the
// domains it practiced so later epochs drift elsewhere.
package curiosity
