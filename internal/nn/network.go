// Package nn defines the smear-classification CNN: three convolutional
// blocks (32/64/128 filters, each 3x3 conv + ReLU + 2x2 max-pool +
// dropout) followed by a 256-unit dense layer and a softmax head.
package nn

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Config describes the network to build. A training network carries the
// loss and gradient nodes; an inference network runs with dropout off.
type Config struct {
	ImageSize  int
	Channels   int
	NumClasses int
	BatchSize  int
	Dropout    float64
	Training   bool
}

func (c *Config) setDefaults() {
	if c.ImageSize == 0 {
		c.ImageSize = 128
	}
	if c.Channels == 0 {
		c.Channels = 3
	}
	if c.NumClasses == 0 {
		c.NumClasses = 2
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
}

// Network is a compiled expression graph plus its tape machine. A Network
// is not safe for concurrent use; callers serialize access.
type Network struct {
	cfg Config
	g   *gorgonia.ExprGraph

	x, y *gorgonia.Node

	w0, w1, w2, w3, w4 *gorgonia.Node

	out  *gorgonia.Node
	cost *gorgonia.Node

	outVal  gorgonia.Value
	costVal gorgonia.Value

	vm gorgonia.VM
}

// New builds and compiles a network. The image size must be divisible by 8
// (three 2x2 poolings).
func New(cfg Config) (*Network, error) {
	cfg.setDefaults()
	if cfg.ImageSize%8 != 0 {
		return nil, fmt.Errorf("image size %d not divisible by 8", cfg.ImageSize)
	}

	g := gorgonia.NewGraph()
	n := &Network{cfg: cfg, g: g}
	dt := tensor.Float32

	n.x = gorgonia.NewTensor(g, dt, 4,
		gorgonia.WithShape(cfg.BatchSize, cfg.Channels, cfg.ImageSize, cfg.ImageSize),
		gorgonia.WithName("x"))

	n.w0 = gorgonia.NewTensor(g, dt, 4,
		gorgonia.WithShape(32, cfg.Channels, 3, 3),
		gorgonia.WithName("w0"), gorgonia.WithInit(gorgonia.GlorotN(1.0)))
	n.w1 = gorgonia.NewTensor(g, dt, 4,
		gorgonia.WithShape(64, 32, 3, 3),
		gorgonia.WithName("w1"), gorgonia.WithInit(gorgonia.GlorotN(1.0)))
	n.w2 = gorgonia.NewTensor(g, dt, 4,
		gorgonia.WithShape(128, 64, 3, 3),
		gorgonia.WithName("w2"), gorgonia.WithInit(gorgonia.GlorotN(1.0)))

	flat := 128 * (cfg.ImageSize / 8) * (cfg.ImageSize / 8)
	n.w3 = gorgonia.NewMatrix(g, dt,
		gorgonia.WithShape(flat, 256),
		gorgonia.WithName("w3"), gorgonia.WithInit(gorgonia.GlorotN(1.0)))
	n.w4 = gorgonia.NewMatrix(g, dt,
		gorgonia.WithShape(256, cfg.NumClasses),
		gorgonia.WithName("w4"), gorgonia.WithInit(gorgonia.GlorotN(1.0)))

	if err := n.fwd(flat); err != nil {
		return nil, err
	}
	gorgonia.Read(n.out, &n.outVal)

	if cfg.Training {
		if err := n.buildLoss(); err != nil {
			return nil, err
		}
		n.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(n.Learnables()...))
	} else {
		n.vm = gorgonia.NewTapeMachine(g)
	}

	return n, nil
}

// block is one conv stage: 3x3 same-padding convolution, ReLU, 2x2
// max-pool, optional dropout.
func (n *Network) block(in, w *gorgonia.Node, drop float64) (*gorgonia.Node, error) {
	c, err := gorgonia.Conv2d(in, w, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("conv: %w", err)
	}
	a, err := gorgonia.Rectify(c)
	if err != nil {
		return nil, fmt.Errorf("relu: %w", err)
	}
	p, err := gorgonia.MaxPool2D(a, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
	if err != nil {
		return nil, fmt.Errorf("maxpool: %w", err)
	}
	if drop > 0 {
		d, err := gorgonia.Dropout(p, drop)
		if err != nil {
			return nil, fmt.Errorf("dropout: %w", err)
		}
		return d, nil
	}
	return p, nil
}

func (n *Network) fwd(flat int) error {
	d := 0.0
	if n.cfg.Training {
		d = n.cfg.Dropout
	}

	l0, err := n.block(n.x, n.w0, d*0.5)
	if err != nil {
		return fmt.Errorf("block 0: %w", err)
	}
	l1, err := n.block(l0, n.w1, d*0.5)
	if err != nil {
		return fmt.Errorf("block 1: %w", err)
	}
	l2, err := n.block(l1, n.w2, d)
	if err != nil {
		return fmt.Errorf("block 2: %w", err)
	}

	r, err := gorgonia.Reshape(l2, tensor.Shape{n.cfg.BatchSize, flat})
	if err != nil {
		return fmt.Errorf("flatten: %w", err)
	}

	fc, err := gorgonia.Mul(r, n.w3)
	if err != nil {
		return fmt.Errorf("dense: %w", err)
	}
	a, err := gorgonia.Rectify(fc)
	if err != nil {
		return fmt.Errorf("dense relu: %w", err)
	}
	if d > 0 {
		if a, err = gorgonia.Dropout(a, d); err != nil {
			return fmt.Errorf("dense dropout: %w", err)
		}
	}

	logits, err := gorgonia.Mul(a, n.w4)
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}
	if n.out, err = gorgonia.SoftMax(logits); err != nil {
		return fmt.Errorf("softmax: %w", err)
	}
	return nil
}

// buildLoss adds categorical cross-entropy over one-hot (possibly
// class-weighted) labels and the gradient nodes.
func (n *Network) buildLoss() error {
	n.y = gorgonia.NewMatrix(n.g, tensor.Float32,
		gorgonia.WithShape(n.cfg.BatchSize, n.cfg.NumClasses),
		gorgonia.WithName("y"))

	logProbs, err := gorgonia.Log(n.out)
	if err != nil {
		return fmt.Errorf("log: %w", err)
	}
	ll, err := gorgonia.HadamardProd(logProbs, n.y)
	if err != nil {
		return fmt.Errorf("hadamard: %w", err)
	}
	mean, err := gorgonia.Mean(ll)
	if err != nil {
		return fmt.Errorf("mean: %w", err)
	}
	if n.cost, err = gorgonia.Neg(mean); err != nil {
		return fmt.Errorf("neg: %w", err)
	}
	gorgonia.Read(n.cost, &n.costVal)

	if _, err := gorgonia.Grad(n.cost, n.Learnables()...); err != nil {
		return fmt.Errorf("grad: %w", err)
	}
	return nil
}

// Learnables returns the weight nodes in checkpoint order.
func (n *Network) Learnables() gorgonia.Nodes {
	return gorgonia.Nodes{n.w0, n.w1, n.w2, n.w3, n.w4}
}

// Config returns the configuration the network was built with.
func (n *Network) Config() Config { return n.cfg }

// TrainStep runs one forward/backward pass over a batch and applies the
// solver. x must be (batch, channels, size, size), y (batch, classes).
func (n *Network) TrainStep(x, y tensor.Tensor, solver gorgonia.Solver) (float64, error) {
	if !n.cfg.Training {
		return 0, fmt.Errorf("network was not built for training")
	}
	if err := gorgonia.Let(n.x, x); err != nil {
		return 0, fmt.Errorf("bind x: %w", err)
	}
	if err := gorgonia.Let(n.y, y); err != nil {
		return 0, fmt.Errorf("bind y: %w", err)
	}
	if err := n.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("run: %w", err)
	}
	loss := float64(n.costVal.Data().(float32))
	if err := solver.Step(gorgonia.NodesToValueGrads(n.Learnables())); err != nil {
		return 0, fmt.Errorf("solver step: %w", err)
	}
	n.vm.Reset()
	return loss, nil
}

// Forward runs inference on a batch and returns softmax outputs as a flat
// slice of batch*classes values. Only valid on non-training networks.
func (n *Network) Forward(x tensor.Tensor) ([]float32, error) {
	if n.cfg.Training {
		return nil, fmt.Errorf("forward requires an inference network")
	}
	if err := gorgonia.Let(n.x, x); err != nil {
		return nil, fmt.Errorf("bind x: %w", err)
	}
	if err := n.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	defer n.vm.Reset()

	data, ok := n.outVal.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", n.outVal.Data())
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// Close releases the tape machine.
func (n *Network) Close() error {
	if n.vm != nil {
		return n.vm.Close()
	}
	return nil
}
