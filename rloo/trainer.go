package rloo

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

// Collaborators bundles the external components a Trainer drives.
// Val, Checkpoints and Tracer are optional.
type Collaborators struct {
	Policy      Policy
	Optimizer   Optimizer
	Scheduler   Scheduler
	Critic      Critic
	Train       DataSource
	Val         DataSource
	Logger      MetricLogger
	Checkpoints CheckpointStore
	RunTimer    RunTimer
	Tracer      trace.Tracer
}

func (c Collaborators) validate() error {
	var missing []string
	for name, set := range map[string]bool{
		"policy":            c.Policy != nil,
		"optimizer":         c.Optimizer != nil,
		"scheduler":         c.Scheduler != nil,
		"critic":            c.Critic != nil,
		"train data source": c.Train != nil,
		"logger":            c.Logger != nil,
		"run timer":         c.RunTimer != nil,
	} {
		if !set {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("missing collaborators: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Trainer runs the RLOO loop on one data-parallel worker. Every worker of the
// group must run a Trainer with the same Config; the loop then issues the
// same collectives in the same order on every rank.
type Trainer struct {
	cfg   Config
	group collective.Group
	c     Collaborators
	gen   *Generator
	log   *logrus.Entry

	state TrainingState

	stepsPerEpoch       int
	maxSteps            int
	rolloutMicrobatches int
	valMicrobatches     int
	samplesPerSplit     int

	timer      *stopwatch
	trainTable *ExampleTable
	valTable   *ExampleTable
	tracer     trace.Tracer
}

// NewTrainer validates the configuration against the collaborators and the
// group topology. It fails before any collective is issued.
func NewTrainer(cfg Config, group collective.Group, c Collaborators) (*Trainer, error) {
	if group == nil {
		return nil, errors.New("nil collective group")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := CheckShuffle(cfg.MaxEpochs, c.Train.ShuffledRestart()); err != nil {
		return nil, err
	}
	topo := group.Topology()
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	t := &Trainer{
		cfg:        cfg,
		group:      group,
		c:          c,
		gen:        NewGenerator(cfg.Generator, c.Policy, c.Critic, group),
		log:        logrus.WithField("rank", topo.Rank),
		timer:      newStopwatch(),
		trainTable: NewExampleTable(cfg.ExampleTableSize),
		valTable:   NewExampleTable(cfg.ExampleTableSize),
		tracer:     c.Tracer,
	}
	if t.tracer == nil {
		t.tracer = noop.NewTracerProvider().Tracer("rloo")
	}

	t.stepsPerEpoch = StepsPerEpoch(c.Train.NumSamples(), c.Train.GlobalBatchSize())
	if t.stepsPerEpoch < 1 {
		return nil, fmt.Errorf("train dataset of %d samples holds no global batch of %d",
			c.Train.NumSamples(), c.Train.GlobalBatchSize())
	}
	t.maxSteps = MaxSteps(t.stepsPerEpoch, cfg.MaxEpochs, cfg.MaxSteps)

	var err error
	t.rolloutMicrobatches, err = RolloutMicrobatches(c.Train.GlobalBatchSize(), c.Train.MicroBatchSize(), topo.WorldSize)
	if err != nil {
		return nil, fmt.Errorf("train data: %w", err)
	}
	t.samplesPerSplit, err = divide(cfg.ModelGBS, topo.WorldSize)
	if err != nil {
		return nil, fmt.Errorf("model_gbs over data-parallel size: %w", err)
	}

	if cfg.validationEnabled() {
		if c.Val == nil {
			return nil, errors.New("validation is enabled but no validation data source is set")
		}
		full, err := RolloutMicrobatches(c.Val.GlobalBatchSize(), c.Val.MicroBatchSize(), topo.WorldSize)
		if err != nil {
			return nil, fmt.Errorf("validation data: %w", err)
		}
		t.valMicrobatches = validationMicrobatches(full, cfg.LimitValBatches)
	}
	if cfg.SaveInterval > 0 && c.Checkpoints == nil {
		return nil, errors.New("save_interval is set but no checkpoint store is configured")
	}

	t.log.Debugf("steps_per_epoch=%d max_steps=%d rollout_microbatches=%d samples_per_split=%d",
		t.stepsPerEpoch, t.maxSteps, t.rolloutMicrobatches, t.samplesPerSplit)
	return t, nil
}

// State returns the current training state.
func (t *Trainer) State() TrainingState {
	return t.state
}

// MaxSteps returns the number of steps the run stops at.
func (t *Trainer) MaxSteps() int {
	return t.maxSteps
}

// Restore loads snap on every worker and verifies that all workers agree.
// It must be called on every rank before Fit.
func (t *Trainer) Restore(ctx context.Context, snap Snapshot) error {
	state, err := Restore(ctx, t.group, snap)
	if err != nil {
		return err
	}
	t.state = state
	t.maxSteps = MaxSteps(t.stepsPerEpoch, t.cfg.MaxEpochs, t.cfg.MaxSteps)
	t.log.Infof("restored step=%d consumed_samples=%d optimization_step=%d",
		state.Step, state.ConsumedSamples, state.OptimizationStep)
	return nil
}

// Fit runs epochs until max steps, the end of max_epochs, or run timer
// expiry. The logger is finalized when the loop ends without error.
func (t *Trainer) Fit(ctx context.Context) error {
	if err := t.runEpochs(ctx); err != nil {
		return err
	}
	return t.c.Logger.Finalize()
}

func (t *Trainer) runEpochs(ctx context.Context) error {
	for epoch := t.state.Epoch(t.stepsPerEpoch); epoch < t.cfg.MaxEpochs; epoch++ {
		steps := min(t.maxSteps-t.state.Step, t.stepsPerEpoch-t.state.Step%t.stepsPerEpoch)
		if steps <= 0 {
			return nil
		}
		it := t.c.Train.Iterator(epoch, t.state.Step%t.stepsPerEpoch)
		t.c.RunTimer.Start()
		t.log.Infof("epoch %d: %d steps from step %d", epoch, steps, t.state.Step)

		for i := 0; i < steps; i++ {
			out, err := t.step(ctx, it, epoch)
			if err != nil {
				return fmt.Errorf("step %d: %w", t.state.Step, err)
			}
			if out.timeExceeded {
				t.log.Infof("run timer expired at step %d, stopping", t.state.Step)
				return nil
			}
			if out.exhausted {
				t.log.Warnf("epoch %d: data exhausted before step %d", epoch, t.state.Step)
				break
			}
		}
	}
	return nil
}

type stepOutcome struct {
	exhausted    bool
	timeExceeded bool
}

func (t *Trainer) step(ctx context.Context, it DataIterator, epoch int) (stepOutcome, error) {
	ctx, span := t.tracer.Start(ctx, "step", trace.WithAttributes(
		attribute.Int("step", t.state.Step),
		attribute.Int("rank", t.group.Topology().Rank),
	))
	defer span.End()

	exhausted, err := t.anyRank(ctx, it.Remaining() < t.rolloutMicrobatches)
	if err != nil {
		return stepOutcome{}, err
	}
	if exhausted {
		return stepOutcome{exhausted: true}, nil
	}

	t.timer.start(timerRollout)
	buf, rolloutMetrics, err := t.generateRollouts(ctx, it)
	if err != nil {
		return stepOutcome{}, err
	}
	t.timer.stop(timerRollout)

	rolloutMetrics["epoch"] = float64(epoch + 1)
	t.c.Logger.LogMetrics(rolloutMetrics, t.state.Step, "train_rollouts/")
	t.c.Logger.LogTable("table/train_rollouts", t.trainTable.Rows(), t.state.Step)

	t.timer.start(timerTrain)
	if err := t.train(ctx, buf); err != nil {
		return stepOutcome{}, err
	}
	t.timer.stop(timerTrain)

	t.state.Step++

	expired, err := t.anyRank(ctx, t.c.RunTimer.Expired())
	if err != nil {
		return stepOutcome{}, err
	}
	progress := CheckProgress(t.state.Step, t.maxSteps, t.cfg.ValCheckInterval, t.cfg.SaveInterval,
		t.cfg.LimitValBatches, expired)

	stepMetrics := map[string]float64{}
	if progress.RunValidation {
		t.timer.start(timerValidation)
		valMetrics, err := t.validate(ctx)
		if err != nil {
			return stepOutcome{}, err
		}
		t.timer.stop(timerValidation)
		t.c.Logger.LogMetrics(valMetrics, t.state.Step, "val_rollouts/")
		t.c.Logger.LogTable("table/val_rollouts", t.valTable.Rows(), t.state.Step)
		for k, v := range valMetrics {
			stepMetrics["val_"+k] = v
		}
	}

	timing, err := t.timer.reduce(ctx, t.group)
	if err != nil {
		return stepOutcome{}, err
	}
	if !progress.RunValidation {
		delete(timing, timerValidation)
	}
	t.c.Logger.LogMetrics(timing, t.state.Step, TimersPrefix)

	maps.Copy(stepMetrics, timing)
	for k, v := range rolloutMetrics {
		stepMetrics["train_"+k] = v
	}

	if progress.Save {
		if err := t.save(ctx, stepMetrics, progress.TrainEnd); err != nil {
			return stepOutcome{}, err
		}
	}
	return stepOutcome{timeExceeded: expired}, nil
}

// anyRank reports whether flag is set on at least one rank.
func (t *Trainer) anyRank(ctx context.Context, flag bool) (bool, error) {
	v := 0.0
	if flag {
		v = 1
	}
	out, err := t.group.AllReduce(ctx, collective.OpMax, []float64{v})
	if err != nil {
		return false, err
	}
	return out[0] > 0, nil
}

func (t *Trainer) generateRollouts(ctx context.Context, it DataIterator) (TrainingBuffer, map[string]float64, error) {
	ctx, span := t.tracer.Start(ctx, "rollout")
	defer span.End()

	if err := t.c.Policy.PrepareForInference(ctx); err != nil {
		return TrainingBuffer{}, nil, fmt.Errorf("prepare for inference: %w", err)
	}
	batches, metrics, err := t.gen.Rollouts(ctx, it, t.rolloutMicrobatches)
	if err != nil {
		return TrainingBuffer{}, nil, err
	}
	buf, err := Assemble(ctx, t.group, batches, t.c.Policy.Tokenizer().EOSID(),
		t.cfg.Generator.InitialPolicyKLPenalty, t.cfg.RolloutBatchSeqLength)
	if err != nil {
		return TrainingBuffer{}, nil, fmt.Errorf("assemble rollouts: %w", err)
	}
	if err := t.c.Policy.FinishInference(ctx); err != nil {
		return TrainingBuffer{}, nil, fmt.Errorf("finish inference: %w", err)
	}

	t.state.ConsumedSamples += buf.Size() * t.group.Topology().WorldSize
	if metrics.Example != nil {
		t.trainTable.Append(ExampleRow{Step: t.state.Step, RolloutExample: *metrics.Example})
	}
	span.SetAttributes(attribute.Int("samples", buf.Size()))

	out := metrics.Global.AsMap()
	out["init_policy_kl"] = metrics.InitPolicyKL
	out["consumed_samples"] = float64(t.state.ConsumedSamples)
	return buf, out, nil
}

func (t *Trainer) train(ctx context.Context, buf TrainingBuffer) error {
	ctx, span := t.tracer.Start(ctx, "train")
	defer span.End()

	if buf.Size()%t.samplesPerSplit != 0 {
		return fmt.Errorf("rollout buffer of %d samples does not split into training batches of %d",
			buf.Size(), t.samplesPerSplit)
	}
	splits, err := buf.Split(buf.Size() / t.samplesPerSplit)
	if err != nil {
		return err
	}

	if err := t.c.Policy.PrepareForTraining(ctx); err != nil {
		return fmt.Errorf("prepare for training: %w", err)
	}
	sw := newStopwatch()
	for _, split := range splits {
		sw.start("train_step_time")
		t.c.Optimizer.ZeroGrad()

		loss, metrics, err := t.c.Policy.TrainStep(ctx, split)
		if err != nil {
			return fmt.Errorf("train step: %w", err)
		}
		out := make(map[string]float64, len(metrics)+5)
		maps.Copy(out, metrics)
		if t.cfg.GradientClipVal > 0 {
			out["grad_norm"] = t.c.Optimizer.ClipGradNorm(t.cfg.GradientClipVal)
		}
		out["lr"] = t.c.Optimizer.LearningRate()

		t.c.Optimizer.Step()
		t.c.Scheduler.Step()

		out["loss"] = loss
		out["optim_step"] = float64(t.state.OptimizationStep)
		out["train_step_time"] = sw.stop("train_step_time")
		t.c.Logger.LogMetrics(out, t.state.Step, "train_optim/")

		t.state.OptimizationStep++
	}
	if err := t.c.Policy.FinishTraining(ctx); err != nil {
		return fmt.Errorf("finish training: %w", err)
	}
	t.c.Optimizer.ZeroGrad()
	return nil
}

func (t *Trainer) validate(ctx context.Context) (map[string]float64, error) {
	ctx, span := t.tracer.Start(ctx, "validation")
	defer span.End()

	if err := t.c.Policy.PrepareForInference(ctx); err != nil {
		return nil, fmt.Errorf("prepare for inference: %w", err)
	}
	_, metrics, err := t.gen.Validate(ctx, t.c.Val.Iterator(0, 0), t.valMicrobatches)
	if err != nil {
		return nil, err
	}
	if err := t.c.Policy.FinishInference(ctx); err != nil {
		return nil, fmt.Errorf("finish inference: %w", err)
	}
	if metrics.Example != nil {
		t.valTable.Append(ExampleRow{Step: t.state.Step, RolloutExample: *metrics.Example})
	}
	return metrics.Global.AsMap(), nil
}

func (t *Trainer) save(ctx context.Context, metrics map[string]float64, final bool) error {
	ctx, span := t.tracer.Start(ctx, "checkpoint", trace.WithAttributes(attribute.Bool("final", final)))
	defer span.End()

	if err := t.c.Policy.PrepareForTraining(ctx); err != nil {
		return fmt.Errorf("prepare for save: %w", err)
	}
	if err := t.group.Barrier(ctx); err != nil {
		return fmt.Errorf("checkpoint barrier: %w", err)
	}
	if err := t.c.Checkpoints.Save(ctx, t.state.Snapshot(), metrics, final); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := t.c.Policy.FinishTraining(ctx); err != nil {
		return fmt.Errorf("finish save: %w", err)
	}
	t.log.Debugf("checkpoint saved at step %d (final=%v)", t.state.Step, final)
	return nil
}
