package nn

import (
	"encoding/gob"
	"fmt"
	"os"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Weight is one named weight tensor in a checkpoint.
type Weight struct {
	Name  string
	Shape []int
	Data  []float32
}

// Checkpoint is a serializable snapshot of a network: enough to rebuild
// an inference network with any batch size.
type Checkpoint struct {
	ImageSize  int
	Channels   int
	NumClasses int
	Dropout    float64
	Weights    []Weight
}

// Checkpoint snapshots the current weights.
func (n *Network) Checkpoint() (*Checkpoint, error) {
	ckpt := &Checkpoint{
		ImageSize:  n.cfg.ImageSize,
		Channels:   n.cfg.Channels,
		NumClasses: n.cfg.NumClasses,
		Dropout:    n.cfg.Dropout,
	}
	for _, w := range n.Learnables() {
		v := w.Value()
		if v == nil {
			return nil, fmt.Errorf("weight %s has no value", w.Name())
		}
		dense, ok := v.(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("weight %s is not a dense tensor", w.Name())
		}
		raw, ok := dense.Data().([]float32)
		if !ok {
			return nil, fmt.Errorf("weight %s is not float32", w.Name())
		}
		data := make([]float32, len(raw))
		copy(data, raw)

		shape := make([]int, len(dense.Shape()))
		copy(shape, dense.Shape())

		ckpt.Weights = append(ckpt.Weights, Weight{
			Name:  w.Name(),
			Shape: shape,
			Data:  data,
		})
	}
	return ckpt, nil
}

// LoadCheckpoint binds checkpointed weights into the network. Shapes must
// match the network's architecture exactly.
func (n *Network) LoadCheckpoint(ckpt *Checkpoint) error {
	byName := make(map[string]Weight, len(ckpt.Weights))
	for _, w := range ckpt.Weights {
		byName[w.Name] = w
	}

	for _, node := range n.Learnables() {
		w, ok := byName[node.Name()]
		if !ok {
			return fmt.Errorf("checkpoint missing weight %s", node.Name())
		}
		want := node.Shape()
		if len(w.Shape) != len(want) {
			return fmt.Errorf("weight %s: shape rank %d, want %d", w.Name, len(w.Shape), len(want))
		}
		for i := range want {
			if w.Shape[i] != want[i] {
				return fmt.Errorf("weight %s: shape %v, want %v", w.Name, w.Shape, want)
			}
		}

		data := make([]float32, len(w.Data))
		copy(data, w.Data)
		t := tensor.New(tensor.WithShape(w.Shape...), tensor.WithBacking(data))
		if err := gorgonia.Let(node, t); err != nil {
			return fmt.Errorf("bind weight %s: %w", w.Name, err)
		}
	}
	return nil
}

// CopyWeightsTo transfers the current weights into another network with
// the same architecture, e.g. a dropout-free validation network.
func (n *Network) CopyWeightsTo(dst *Network) error {
	ckpt, err := n.Checkpoint()
	if err != nil {
		return err
	}
	return dst.LoadCheckpoint(ckpt)
}

// Save writes the checkpoint with gob encoding.
func (c *Checkpoint) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpointFile reads a gob checkpoint from disk.
func LoadCheckpointFile(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	var ckpt Checkpoint
	if err := gob.NewDecoder(f).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if len(ckpt.Weights) == 0 {
		return nil, fmt.Errorf("checkpoint %s has no weights", path)
	}
	return &ckpt, nil
}
