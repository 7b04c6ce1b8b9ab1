package reference

import "errors"

// Structural errors. These are returned synchronously and are never absorbed
// into the Absent channel.
var (
	// ErrShape indicates axes and shape disagree or an extent is negative.
	ErrShape = errors.New("reference: shape error")

	// ErrAxis indicates an unknown, duplicate or missing axis name.
	ErrAxis = errors.New("reference: axis error")

	// ErrIndex indicates a negative position in an Index.
	ErrIndex = errors.New("reference: invalid index")

	// ErrShapeMismatch indicates two operands share an axis with different extents.
	ErrShapeMismatch = errors.New("reference: shape mismatch")

	// ErrLeafContainer indicates a nested container was written where a leaf is required.
	ErrLeafContainer = errors.New("reference: container value where a leaf is required")

	// ErrNoOperands indicates an algebra operator was called without operands.
	ErrNoOperands = errors.New("reference: no operands")

	// ErrNilOperand indicates a nil *Reference operand.
	ErrNilOperand = errors.New("reference: nil operand")

	// ErrNilFunc indicates a nil element function.
	ErrNilFunc = errors.New("reference: nil function")
)

// Cell-level errors. The algebra turns these into Absent cells and only
// reports them through WithCellErrorHandler.
var (
	// ErrNotCallable indicates a CrossAction cell that holds no cell function.
	ErrNotCallable = errors.New("reference: cell is not callable")

	// ErrCellPanic indicates a cell function panicked.
	ErrCellPanic = errors.New("reference: cell function panicked")
)
