package logical

import "fmt"

// ScalarFixedDouble is a parse-time constant: the same value at every
// evaluation step. A leaf.
type ScalarFixedDouble struct {
	Value float64
}

func (*ScalarFixedDouble) expr() {}

func (s *ScalarFixedDouble) String() string {
	return fmt.Sprintf("%g", s.Value)
}

// ScalarVaryingDouble is a scalar that takes a different value at each step
// of the evaluation range, e.g. the output of a scalar() call over a
// varying vector. A leaf.
type ScalarVaryingDouble struct {
	Steps []ScalarSample
}

// ScalarSample is one (timestamp, value) pair of a ScalarVaryingDouble.
type ScalarSample struct {
	Timestamp int64
	Value     float64
}

func (*ScalarVaryingDouble) expr() {}

func (s *ScalarVaryingDouble) String() string {
	return fmt.Sprintf("ScalarVaryingDouble(%d steps)", len(s.Steps))
}

// ScalarTimeBased represents the time() function: at each evaluation step
// it yields that step's own timestamp as a scalar. A leaf.
type ScalarTimeBased struct{}

func (*ScalarTimeBased) expr() {}

func (*ScalarTimeBased) String() string { return "time()" }

// ScalarBinaryOperation applies Op between two scalar-producing
// expressions.
type ScalarBinaryOperation struct {
	LHS Expr
	RHS Expr
	Op  BinaryOp
}

func (*ScalarBinaryOperation) expr() {}

func (s *ScalarBinaryOperation) String() string {
	return fmt.Sprintf("(%s %s %s)", s.LHS, s.Op, s.RHS)
}
