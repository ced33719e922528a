package gopvi

import (
	"errors"
	"fmt"
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// rowShape returns the shape [S] for a last input of shape [S, ...]
func rowShape(shapes ...tensor.Shape) (tensor.Shape, error) {
	last := shapes[len(shapes)-1]
	if last.Dims() < 1 {
		return nil, fmt.Errorf("expected a batch but got shape %v", last)
	}
	return tensor.Shape{last[0]}, nil
}

// offsetRowSquares computes offset + Σⱼ z[s, j]² for each row s of z
func offsetRowSquares(inputs []tensor.Tensor) (tensor.Tensor, error) {
	offset := inputs[0].Data().([]float64)[0]
	z := inputs[1]
	rows, cols := z.Shape()[0], z.Shape()[1]
	data := z.Data().([]float64)

	out := make([]float64, rows)
	for s := 0; s < rows; s++ {
		out[s] = offset
		for j := 0; j < cols; j++ {
			out[s] += data[s*cols+j] * data[s*cols+j]
		}
	}

	return tensor.New(tensor.WithShape(rows), tensor.WithBacking(out)), nil
}

func TestHostCall(t *testing.T) {
	const threshold float64 = 0.00001

	g := G.NewGraph()
	offsetT := tensor.New(tensor.WithShape(1), tensor.WithBacking([]float64{3}))
	offset := G.NewVector(g, tensor.Float64, G.WithShape(1),
		G.WithValue(offsetT), G.WithName(Unique("offset")))

	zBacking := []float64{1, 2, 3, 4, 5, 6}
	zT := tensor.New(tensor.WithShape(3, 2), tensor.WithBacking(zBacking))
	z := G.NewMatrix(g, tensor.Float64, G.WithShape(3, 2), G.WithValue(zT),
		G.WithName(Unique("z")))

	out, err := HostCall("offsetRowSquares", offsetRowSquares, tensor.Float64,
		rowShape, offset, z)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{3}) {
		t.Fatalf("expected shape (3) but got %v", out.Shape())
	}
	var outVal G.Value
	G.Read(out, &outVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}

	target := []float64{3 + 1 + 4, 3 + 9 + 16, 3 + 25 + 36}
	data := outVal.Data().([]float64)
	for i := range target {
		if math.Abs(data[i]-target[i]) > threshold {
			t.Errorf("expected %v at index %d but got %v", target[i], i,
				data[i])
		}
	}
}

func TestHostCallNotMerged(t *testing.T) {
	g := G.NewGraph()
	z := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 2), G.WithName("z"))

	fn := func(inputs []tensor.Tensor) (tensor.Tensor, error) {
		return tensor.New(tensor.WithShape(2), tensor.Of(tensor.Float64)), nil
	}
	a, err := HostCall("f", fn, tensor.Float64, rowShape, z)
	if err != nil {
		t.Fatal(err)
	}
	b, err := HostCall("f", fn, tensor.Float64, rowShape, z)
	if err != nil {
		t.Fatal(err)
	}

	if a == b {
		t.Error("expected separate host call nodes over the same inputs")
	}
}

func TestHostCallErrorAtRunTime(t *testing.T) {
	errHost := errors.New("host failure")

	g := G.NewGraph()
	zT := tensor.New(tensor.WithShape(2, 2),
		tensor.WithBacking([]float64{1, 2, 3, 4}))
	z := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 2), G.WithValue(zT),
		G.WithName(Unique("z")))

	fail := func(inputs []tensor.Tensor) (tensor.Tensor, error) {
		return nil, errHost
	}

	// Construction succeeds, the failure is deferred to execution
	out, err := HostCall("fail", fail, tensor.Float64, rowShape, z)
	if err != nil {
		t.Fatalf("expected construction to succeed but got %v", err)
	}
	var outVal G.Value
	G.Read(out, &outVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err == nil {
		t.Error("expected an error when running the graph")
	}
}

func TestHostCallWrongDtype(t *testing.T) {
	g := G.NewGraph()
	zT := tensor.New(tensor.WithShape(2, 1),
		tensor.WithBacking([]float64{1, 2}))
	z := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 1), G.WithValue(zT),
		G.WithName(Unique("z")))

	f64 := func(inputs []tensor.Tensor) (tensor.Tensor, error) {
		return tensor.New(tensor.WithShape(2), tensor.Of(tensor.Float64)), nil
	}
	out, err := HostCall("f64", f64, tensor.Float32, rowShape, z)
	if err != nil {
		t.Fatal(err)
	}
	var outVal G.Value
	G.Read(out, &outVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err == nil {
		t.Error("expected a dtype error when running the graph")
	}
}

func TestHostCallDiff(t *testing.T) {
	const threshold float64 = 0.00001

	g := G.NewGraph()
	offsetT := tensor.New(tensor.WithShape(1), tensor.WithBacking([]float64{1}))
	offset := G.NewVector(g, tensor.Float64, G.WithShape(1),
		G.WithValue(offsetT), G.WithName(Unique("offset")))

	zBacking := []float64{1, -2, 0.5, 4}
	zT := tensor.New(tensor.WithShape(2, 2),
		tensor.WithBacking(append([]float64(nil), zBacking...)))
	z := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 2), G.WithValue(zT),
		G.WithName(Unique("z")))

	// d/dz[s, j] of Σₛ f(z)[s] is 2 z[s, j]
	grad := func(inputs []tensor.Tensor, grad tensor.Tensor) (tensor.Tensor,
		error) {
		z := inputs[1]
		rows, cols := z.Shape()[0], z.Shape()[1]
		data := z.Data().([]float64)
		g := grad.Data().([]float64)

		out := make([]float64, len(data))
		for s := 0; s < rows; s++ {
			for j := 0; j < cols; j++ {
				out[s*cols+j] = 2 * data[s*cols+j] * g[s]
			}
		}
		return tensor.New(tensor.WithShape(rows, cols),
			tensor.WithBacking(out)), nil
	}

	out, err := HostCallDiff("offsetRowSquares", offsetRowSquares, grad, 1,
		tensor.Float64, rowShape, offset, z)
	if err != nil {
		t.Fatal(err)
	}
	loss := G.Must(G.Sum(out))
	grads, err := G.Grad(loss, z)
	if err != nil {
		t.Fatal(err)
	}
	var gradVal G.Value
	G.Read(grads[0], &gradVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}

	data := gradVal.Data().([]float64)
	for i, elem := range zBacking {
		if math.Abs(data[i]-2*elem) > threshold {
			t.Errorf("expected gradient %v at index %d but got %v", 2*elem, i,
				data[i])
		}
	}
}

func TestHostCallDiffInvalidWRT(t *testing.T) {
	g := G.NewGraph()
	z := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 2), G.WithName("z"))

	_, err := HostCallDiff("f", offsetRowSquares,
		func([]tensor.Tensor, tensor.Tensor) (tensor.Tensor, error) {
			return nil, nil
		}, 1, tensor.Float64, rowShape, z)
	if err == nil {
		t.Error("expected an error when differentiating a missing input")
	}
}

// rowProducts computes Σⱼ Πᵢ xᵢ[s, j] for each row s, where the xᵢ are
// the inputs
func rowProducts(inputs []tensor.Tensor) (tensor.Tensor, error) {
	rows, cols := inputs[0].Shape()[0], inputs[0].Shape()[1]

	out := make([]float64, rows)
	for s := 0; s < rows; s++ {
		for j := 0; j < cols; j++ {
			prod := 1.0
			for _, in := range inputs {
				prod *= in.Data().([]float64)[s*cols+j]
			}
			out[s] += prod
		}
	}

	return tensor.New(tensor.WithShape(rows), tensor.WithBacking(out)), nil
}

// rowProductsGrad returns the gradient function of rowProducts with
// respect to input wrt
func rowProductsGrad(wrt int) HostGradFunc {
	return func(inputs []tensor.Tensor, grad tensor.Tensor) (tensor.Tensor,
		error) {
		rows, cols := inputs[0].Shape()[0], inputs[0].Shape()[1]
		g := grad.Data().([]float64)

		out := make([]float64, rows*cols)
		for s := 0; s < rows; s++ {
			for j := 0; j < cols; j++ {
				prod := g[s]
				for i, in := range inputs {
					if i != wrt {
						prod *= in.Data().([]float64)[s*cols+j]
					}
				}
				out[s*cols+j] = prod
			}
		}

		return tensor.New(tensor.WithShape(rows, cols),
			tensor.WithBacking(out)), nil
	}
}

func newHostMatrix(g *G.ExprGraph, name string, rows, cols int,
	backing []float64) *G.Node {
	t := tensor.New(tensor.WithShape(rows, cols),
		tensor.WithBacking(append([]float64(nil), backing...)))
	return G.NewMatrix(g, tensor.Float64, G.WithShape(rows, cols),
		G.WithValue(t), G.WithName(Unique(name)))
}

func TestHostCallDiffSingleInput(t *testing.T) {
	const threshold float64 = 0.00001

	g := G.NewGraph()
	zBacking := []float64{1, -2, 3, 0.5, 4, -1}
	z := newHostMatrix(g, "z", 3, 2, zBacking)

	square := func(inputs []tensor.Tensor) (tensor.Tensor, error) {
		return rowProducts([]tensor.Tensor{inputs[0], inputs[0]})
	}
	grad := func(inputs []tensor.Tensor, grad tensor.Tensor) (tensor.Tensor,
		error) {
		z := inputs[0]
		out, err := rowProductsGrad(0)([]tensor.Tensor{z, z}, grad)
		if err != nil {
			return nil, err
		}
		return tensor.Mul(out, 2.0)
	}

	out, err := HostCallDiff("square", square, grad, 0, tensor.Float64,
		rowShape, z)
	if err != nil {
		t.Fatal(err)
	}
	loss := G.Must(G.Sum(out))
	grads, err := G.Grad(loss, z)
	if err != nil {
		t.Fatal(err)
	}
	var outVal, gradVal G.Value
	G.Read(out, &outVal)
	G.Read(grads[0], &gradVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}

	for s, got := range outVal.Data().([]float64) {
		a, b := zBacking[2*s], zBacking[2*s+1]
		if math.Abs(got-(a*a+b*b)) > threshold {
			t.Errorf("expected %v at row %d but got %v", a*a+b*b, s, got)
		}
	}
	for i, got := range gradVal.Data().([]float64) {
		if math.Abs(got-2*zBacking[i]) > threshold {
			t.Errorf("expected gradient %v at index %d but got %v",
				2*zBacking[i], i, got)
		}
	}
}

func TestHostCallDiffEachInput(t *testing.T) {
	const threshold float64 = 0.00001

	backings := [][]float64{
		{1, 2, 3, 4},
		{-1, 0.5, 2, 3},
		{4, -2, 1, 0.25},
	}

	for wrt := range backings {
		g := G.NewGraph()
		inputs := make(G.Nodes, len(backings))
		for i, backing := range backings {
			inputs[i] = newHostMatrix(g, "x", 2, 2, backing)
		}

		out, err := HostCallDiff("rowProducts", rowProducts,
			rowProductsGrad(wrt), wrt, tensor.Float64, rowShape, inputs...)
		if err != nil {
			t.Fatal(err)
		}
		loss := G.Must(G.Sum(out))
		grads, err := G.Grad(loss, inputs[wrt])
		if err != nil {
			t.Fatalf("wrt %d: %v", wrt, err)
		}
		var gradVal G.Value
		G.Read(grads[0], &gradVal)

		vm := G.NewTapeMachine(g)
		if err := vm.RunAll(); err != nil {
			t.Fatalf("wrt %d: %v", wrt, err)
		}

		data := gradVal.Data().([]float64)
		for k := range data {
			target := 1.0
			for i, backing := range backings {
				if i != wrt {
					target *= backing[k]
				}
			}
			if math.Abs(data[k]-target) > threshold {
				t.Errorf("wrt %d: expected gradient %v at index %d but got %v",
					wrt, target, k, data[k])
			}
		}

		vm.Close()
	}
}

func TestHostCallMixedDtypes(t *testing.T) {
	g := G.NewGraph()
	xT := tensor.New(tensor.WithShape(3),
		tensor.WithBacking([]float32{1, 2, 3}))
	x := G.NewVector(g, tensor.Float32, G.WithShape(3), G.WithValue(xT),
		G.WithName(Unique("x")))
	y := G.NewScalar(g, tensor.Float64, G.WithValue(2.0),
		G.WithName(Unique("y")))
	z := newHostMatrix(g, "z", 5, 2, make([]float64, 10))

	// Each row gets Σx·y, whatever the latents
	fn := func(inputs []tensor.Tensor) (tensor.Tensor, error) {
		var sum float32
		for _, v := range inputs[0].Data().([]float32) {
			sum += v
		}
		sum *= float32(inputs[1].Data().(float64))

		rows := inputs[2].Shape()[0]
		out := make([]float32, rows)
		for i := range out {
			out[i] = sum
		}
		return tensor.New(tensor.WithShape(rows), tensor.WithBacking(out)), nil
	}

	out, err := HostCall("mixed", fn, tensor.Float32, rowShape, x, y, z)
	if err != nil {
		t.Fatal(err)
	}
	if out.Dtype() != tensor.Float32 || !out.Shape().Eq(tensor.Shape{5}) {
		t.Fatalf("expected a float32 node of shape (5) but got %v %v",
			out.Dtype(), out.Shape())
	}
	var outVal G.Value
	G.Read(out, &outVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}

	for i, got := range outVal.Data().([]float32) {
		if got != 12 {
			t.Errorf("expected 12 at index %d but got %v", i, got)
		}
	}
}
