package testutil

import "github.com/roach88/difftrace/internal/ir"

// CollatzMethod counts the steps of the Collatz iteration starting at a:
// while a > 1, odd values become 3a+1 and even values a/2.
func CollatzMethod() ir.Method {
	return ir.Method{
		Name:    "collatz",
		Inputs:  []ir.Param{{Name: "a", Shape: ir.Scalar(ir.Float32)}},
		Outputs: []ir.Shape{ir.Scalar(ir.Float32)},
		Body: []ir.Stmt{
			ir.Set("i", ir.Lit(0)),
			ir.While{
				Cond: ir.Bin(ir.OpGt, ir.V("a"), ir.Lit(1)),
				Body: []ir.Stmt{
					ir.Set("i", ir.Bin(ir.OpAdd, ir.V("i"), ir.Lit(1))),
					ir.If{
						Cond: ir.Bin(ir.OpGt, ir.Bin(ir.OpMod, ir.V("a"), ir.Lit(2)), ir.Lit(0)),
						Then: []ir.Stmt{ir.Set("a", ir.Bin(ir.OpAdd, ir.Bin(ir.OpMul, ir.Lit(3), ir.V("a")), ir.Lit(1)))},
						Else: []ir.Stmt{ir.Set("a", ir.Bin(ir.OpDiv, ir.V("a"), ir.Lit(2)))},
					},
				},
			},
			ir.Ret(ir.V("i")),
		},
	}
}

// HarmonicMethod sums 1/k for k = 1..n in float32. Rounding intermediates to
// float16 moves the result well outside the float32 tolerance.
func HarmonicMethod() ir.Method {
	return ir.Method{
		Name:    "harmonic",
		Inputs:  []ir.Param{{Name: "n", Shape: ir.Scalar(ir.Float32)}},
		Outputs: []ir.Shape{ir.Scalar(ir.Float32)},
		Body: []ir.Stmt{
			ir.Set("s", ir.Lit(0)),
			ir.Set("k", ir.Lit(1)),
			ir.While{
				Cond: ir.Bin(ir.OpLe, ir.V("k"), ir.V("n")),
				Body: []ir.Stmt{
					ir.Set("s", ir.Bin(ir.OpAdd, ir.V("s"), ir.Bin(ir.OpDiv, ir.Lit(1), ir.V("k")))),
					ir.Set("k", ir.Bin(ir.OpAdd, ir.V("k"), ir.Lit(1))),
				},
			},
			ir.Ret(ir.V("s")),
		},
	}
}

// SpinMethod never terminates for a > 0.
func SpinMethod() ir.Method {
	return ir.Method{
		Name:    "spin",
		Inputs:  []ir.Param{{Name: "a", Shape: ir.Scalar(ir.Float32)}},
		Outputs: []ir.Shape{ir.Scalar(ir.Float32)},
		Body: []ir.Stmt{
			ir.While{
				Cond: ir.Bin(ir.OpGt, ir.V("a"), ir.Lit(0)),
				Body: []ir.Stmt{ir.Set("a", ir.Bin(ir.OpAdd, ir.V("a"), ir.Lit(1)))},
			},
			ir.Ret(ir.V("a")),
		},
	}
}

// ScaleMethod multiplies a float32[3] vector by a scalar.
func ScaleMethod() ir.Method {
	return ir.Method{
		Name:    "scale",
		Inputs:  []ir.Param{{Name: "x", Shape: ir.MakeShape(ir.Float32, 3)}, {Name: "k", Shape: ir.Scalar(ir.Float32)}},
		Outputs: []ir.Shape{ir.MakeShape(ir.Float32, 3)},
		Body:    []ir.Stmt{ir.Ret(ir.Bin(ir.OpMul, ir.V("x"), ir.V("k")))},
	}
}

// ControlFlowProgram is the "control_flow" program with the collatz,
// harmonic, spin and scale methods.
func ControlFlowProgram() *ir.Program {
	return ir.MustNewProgram("control_flow", CollatzMethod(), HarmonicMethod(), SpinMethod(), ScaleMethod())
}

// F32 returns a float32 scalar.
func F32(v float32) *ir.Tensor {
	return ir.ScalarFloat32(v)
}
