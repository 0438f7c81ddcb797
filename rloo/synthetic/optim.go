package synthetic

import "math"

// SGD applies plain gradient descent to a Policy's mean length.
type SGD struct {
	policy *Policy
	baseLR float64
	lr     float64
}

// NewSGD creates an optimizer for policy.
func NewSGD(policy *Policy, lr float64) *SGD {
	return &SGD{policy: policy, baseLR: lr, lr: lr}
}

// ZeroGrad implements rloo.Optimizer.
func (o *SGD) ZeroGrad() {
	o.policy.grad = 0
}

// ClipGradNorm implements rloo.Optimizer.
func (o *SGD) ClipGradNorm(maxNorm float64) float64 {
	norm := math.Abs(o.policy.grad)
	if norm > maxNorm && norm > 0 {
		o.policy.grad *= maxNorm / norm
	}
	return norm
}

// Step implements rloo.Optimizer.
func (o *SGD) Step() {
	o.policy.mu -= o.lr * o.policy.grad
}

// LearningRate implements rloo.Optimizer.
func (o *SGD) LearningRate() float64 {
	return o.lr
}

// WarmupScheduler ramps the learning rate linearly over the first steps.
type WarmupScheduler struct {
	opt    *SGD
	warmup int
	steps  int
}

// NewWarmupScheduler sets opt's learning rate for step 0.
func NewWarmupScheduler(opt *SGD, warmup int) *WarmupScheduler {
	s := &WarmupScheduler{opt: opt, warmup: warmup}
	s.apply()
	return s
}

// Step implements rloo.Scheduler.
func (s *WarmupScheduler) Step() {
	s.steps++
	s.apply()
}

func (s *WarmupScheduler) apply() {
	if s.warmup <= 0 || s.steps >= s.warmup {
		s.opt.lr = s.opt.baseLR
		return
	}
	s.opt.lr = s.opt.baseLR * float64(s.steps+1) / float64(s.warmup)
}
