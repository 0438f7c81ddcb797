// Package synthetic provides self-contained rloo collaborators for simulated
// fleet runs: a prompt dataset sharded across ranks, a policy whose only
// parameter is the mean response length, a reward critic with rule-based
// constraints, and an SGD optimizer with a warmup schedule.
//
// The policy treats the response length as its action, so a REINFORCE
// update moves the mean length toward whatever the critic rewards. This is
// enough to exercise every collective, shape and reward path of the loop
// without a real model.
package synthetic
