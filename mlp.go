package imagepref

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// dense is a fully connected layer with its Adam moments.
type dense struct {
	in, out int
	w, b    []float64 // w is out×in, row-major
	gw, gb  []float64
	mw, vw  []float64
	mb, vb  []float64
}

func newDense(in, out int, rng *rand.Rand) *dense {
	d := &dense{
		in: in, out: out,
		w: make([]float64, in*out), b: make([]float64, out),
		gw: make([]float64, in*out), gb: make([]float64, out),
		mw: make([]float64, in*out), vw: make([]float64, in*out),
		mb: make([]float64, out), vb: make([]float64, out),
	}
	// He initialisation for ReLU layers.
	scale := math.Sqrt(2 / float64(in))
	for i := range d.w {
		d.w[i] = rng.NormFloat64() * scale
	}
	return d
}

func (d *dense) forward(x []float64) []float64 {
	z := make([]float64, d.out)
	for o := range d.out {
		sum := d.b[o]
		row := d.w[o*d.in : (o+1)*d.in]
		for i, v := range x {
			sum += row[i] * v
		}
		z[o] = sum
	}
	return z
}

// mlp is a feed-forward network: ReLU hidden layers and a softmax output.
type mlp struct {
	layers []*dense
	step   int
}

func newMLP(in int, hidden []int, classes int, rng *rand.Rand) *mlp {
	n := &mlp{}
	prev := in
	for _, h := range hidden {
		n.layers = append(n.layers, newDense(prev, h, rng))
		prev = h
	}
	n.layers = append(n.layers, newDense(prev, classes, rng))
	return n
}

// activations returns the input followed by every layer's output; the last
// entry holds class probabilities.
func (n *mlp) activations(x []float64) [][]float64 {
	acts := make([][]float64, 0, len(n.layers)+1)
	acts = append(acts, x)
	a := x
	for li, l := range n.layers {
		z := l.forward(a)
		if li == len(n.layers)-1 {
			softmax(z)
		} else {
			for i, v := range z {
				if v < 0 {
					z[i] = 0
				}
			}
		}
		acts = append(acts, z)
		a = z
	}
	return acts
}

func (n *mlp) predict(x []float64) []float64 {
	acts := n.activations(x)
	return acts[len(acts)-1]
}

// backward accumulates gradients of the cross-entropy loss for one sample
// and returns that sample's loss.
func (n *mlp) backward(x []float64, target int) float64 {
	acts := n.activations(x)
	probs := acts[len(acts)-1]

	delta := make([]float64, len(probs))
	copy(delta, probs)
	delta[target]--
	loss := -math.Log(math.Max(probs[target], 1e-12))

	for li := len(n.layers) - 1; li >= 0; li-- {
		l := n.layers[li]
		input := acts[li]
		for o := range l.out {
			l.gb[o] += delta[o]
			row := l.gw[o*l.in : (o+1)*l.in]
			for i, v := range input {
				row[i] += delta[o] * v
			}
		}
		if li == 0 {
			break
		}
		prev := make([]float64, l.in)
		for o := range l.out {
			row := l.w[o*l.in : (o+1)*l.in]
			for i := range prev {
				prev[i] += row[i] * delta[o]
			}
		}
		// ReLU derivative of the layer below.
		for i, v := range input {
			if v <= 0 {
				prev[i] = 0
			}
		}
		delta = prev
	}
	return loss
}

// apply performs one Adam update with gradients averaged over batch samples.
func (n *mlp) apply(batch int, lr float64) {
	n.step++
	c1 := 1 - math.Pow(adamBeta1, float64(n.step))
	c2 := 1 - math.Pow(adamBeta2, float64(n.step))
	inv := 1 / float64(batch)
	for _, l := range n.layers {
		adam(l.w, l.gw, l.mw, l.vw, inv, lr, c1, c2)
		adam(l.b, l.gb, l.mb, l.vb, inv, lr, c1, c2)
	}
}

func adam(param, grad, m, v []float64, inv, lr, c1, c2 float64) {
	for i := range param {
		g := grad[i] * inv
		m[i] = adamBeta1*m[i] + (1-adamBeta1)*g
		v[i] = adamBeta2*v[i] + (1-adamBeta2)*g*g
		param[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + adamEpsilon)
		grad[i] = 0
	}
}

// fit trains the network with mini-batch Adam and returns the mean loss of the last epoch.
func (n *mlp) fit(ctx context.Context, xs [][]float64, ys []int, cfg ClassifierConfig, rng *rand.Rand) (float64, error) {
	var loss float64
	for range cfg.Epochs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		loss = 0
		perm := rng.Perm(len(xs))
		for start := 0; start < len(perm); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(perm))
			for _, idx := range perm[start:end] {
				loss += n.backward(xs[idx], ys[idx])
			}
			n.apply(end-start, cfg.LearningRate)
		}
		loss /= float64(len(xs))
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, errors.New("loss diverged")
		}
	}
	return loss, nil
}

func softmax(z []float64) {
	maxV := math.Inf(-1)
	for _, v := range z {
		maxV = math.Max(maxV, v)
	}
	var sum float64
	for i, v := range z {
		z[i] = math.Exp(v - maxV)
		sum += z[i]
	}
	for i := range z {
		z[i] /= sum
	}
}
