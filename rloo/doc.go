// Package rloo coordinates one REINFORCE fine-tuning run with a leave-one-out
// (RLOO) baseline. The same control flow runs on every data-parallel worker;
// workers agree on shapes and metrics only through collective.Group calls.
//
// # Reading Guide
//
// Start with these files:
//   - batch.go: RolloutBatch, the per-microbatch record, and TrainingBuffer
//   - rollout.go: sampling, reward scoring and baseline computation per microbatch
//   - trainer.go: the epoch/step loop (rollout, training, validation, checkpoint)
//
// # Building Blocks
//
//   - pad.go: PadPair (local) and PadToGlobal (cluster-wide agreed length)
//   - reward.go: the training and validation reward blending rules
//   - kl.go: response masks and the per-sample KL penalty
//   - baseline.go: prompt grouping and the leave-one-out baseline
//   - metrics.go: globally reduced rollout metrics and the logged example
//   - progress.go: max-steps, microbatch counts and the validation/save schedule
//   - state.go: TrainingState snapshots and the post-restore consistency check
//
// # Collaborators
//
// The policy model, reward critic, optimizer, data source, metric logger,
// checkpoint store and run timer are interfaces (collaborators.go).
// Implementations live in sub-packages:
//   - rloo/collective: Group implementations (in-process Fabric, HTTP coordinator)
//   - rloo/checkpoint: YAML file and Redis checkpoint stores
//   - rloo/monitor: logrus and Prometheus metric loggers
//   - rloo/synthetic: a self-contained policy, critic and dataset for simulated runs
package rloo
