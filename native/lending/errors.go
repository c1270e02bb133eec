package lending

import "errors"

// Configuration errors are raised by admin calls.
var (
	ErrUnauthorized              = errors.New("lending: caller not permitted")
	ErrInvalidInterestRateConfig = errors.New("lending: invalid interest rate config")
	ErrInvalidLoanPoolConfig     = errors.New("lending: invalid loan pool config")
	ErrInvalidLoanTypeConfig     = errors.New("lending: invalid loan type config")
	ErrLoanTypeAlreadyExists     = errors.New("lending: loan type already exists")
	ErrLoanPoolAlreadyExists     = errors.New("lending: pool already added to loan type")
)

// Precondition errors are raised before any state is touched.
var (
	ErrNilState                         = errors.New("lending: state not configured")
	ErrInvalidAmount                    = errors.New("lending: amount must be positive")
	ErrUnknownLoanType                  = errors.New("lending: unknown loan type")
	ErrUnknownLoanPool                  = errors.New("lending: pool not part of loan type")
	ErrUnknownUserLoan                  = errors.New("lending: unknown user loan")
	ErrUserLoanAlreadyCreated           = errors.New("lending: user loan already created")
	ErrUnknownAccount                   = errors.New("lending: account not registered")
	ErrNotAccountOwner                  = errors.New("lending: account does not own loan")
	ErrLoanTypeDeprecated               = errors.New("lending: loan type deprecated")
	ErrLoanPoolDeprecated               = errors.New("lending: loan pool deprecated")
	ErrLoanNotEmpty                     = errors.New("lending: loan still has collateral or borrows")
	ErrBorrowTypeMismatch               = errors.New("lending: borrow type mismatch")
	ErrNoCollateralInLoanForPool        = errors.New("lending: no collateral in loan for pool")
	ErrNoBorrowInLoanForPool            = errors.New("lending: no borrow in loan for pool")
	ErrNoVariableBorrowInLoanForPool    = errors.New("lending: no variable borrow in loan for pool")
	ErrNoStableBorrowInLoanForPool      = errors.New("lending: no stable borrow in loan for pool")
	ErrSameLoan                         = errors.New("lending: violator and liquidator loans are identical")
	ErrLoanTypeMismatch                 = errors.New("lending: loans belong to different loan types")
	ErrZeroFAmount                      = errors.New("lending: amount converts to zero f-shares")
	ErrStableBorrowingDisabled          = errors.New("lending: stable borrowing disabled for pool")
	ErrMaxStableRateExceeded            = errors.New("lending: stable rate above caller maximum")
	ErrRebalanceUpThresholdNotReached   = errors.New("lending: rebalance up threshold not reached")
	ErrRebalanceDownThresholdNotReached = errors.New("lending: rebalance down threshold not reached")
	ErrPriceUnavailable                 = errors.New("lending: price unavailable")
)

// Solvency errors are raised after the post-state has been computed; the
// tentative state is discarded.
var (
	ErrUnderCollateralizedLoan           = errors.New("lending: loan under-collateralized")
	ErrOverCollateralizedLoan            = errors.New("lending: loan over-collateralized")
	ErrCollateralCapReached              = errors.New("lending: collateral cap reached")
	ErrBorrowCapReached                  = errors.New("lending: borrow cap reached")
	ErrInsufficientCollateral            = errors.New("lending: insufficient collateral")
	ErrInsufficientLiquidity             = errors.New("lending: insufficient liquidity")
	ErrExcessRepaymentExceeded           = errors.New("lending: excess repayment exceeded")
	ErrInsufficientSeized                = errors.New("lending: seized amount below minimum")
	ErrStableBorrowPercentageCapExceeded = errors.New("lending: stable borrow percentage cap exceeded")
)

// Arithmetic faults. These indicate a computation that would wrap and are
// always fatal to the call.
var (
	ErrArithmeticOverflow  = errors.New("lending: arithmetic overflow")
	ErrArithmeticUnderflow = errors.New("lending: arithmetic underflow")
	ErrDivisionByZero      = errors.New("lending: division by zero")
)

// Class groups errors by how callers are expected to react to them.
type Class string

const (
	ClassNone          Class = ""
	ClassConfiguration Class = "configuration"
	ClassPrecondition  Class = "precondition"
	ClassSolvency      Class = "solvency"
	ClassArithmetic    Class = "arithmetic"
	ClassInternal      Class = "internal"
)

var errorClasses = map[Class][]error{
	ClassConfiguration: {
		ErrUnauthorized, ErrInvalidInterestRateConfig, ErrInvalidLoanPoolConfig,
		ErrInvalidLoanTypeConfig, ErrLoanTypeAlreadyExists, ErrLoanPoolAlreadyExists,
	},
	ClassPrecondition: {
		ErrInvalidAmount, ErrUnknownLoanType, ErrUnknownLoanPool, ErrUnknownUserLoan,
		ErrUserLoanAlreadyCreated, ErrUnknownAccount, ErrNotAccountOwner, ErrLoanTypeDeprecated,
		ErrLoanPoolDeprecated, ErrLoanNotEmpty, ErrBorrowTypeMismatch, ErrNoCollateralInLoanForPool,
		ErrNoBorrowInLoanForPool, ErrNoVariableBorrowInLoanForPool, ErrNoStableBorrowInLoanForPool,
		ErrSameLoan, ErrLoanTypeMismatch, ErrZeroFAmount, ErrStableBorrowingDisabled,
		ErrMaxStableRateExceeded, ErrRebalanceUpThresholdNotReached,
		ErrRebalanceDownThresholdNotReached, ErrPriceUnavailable,
	},
	ClassSolvency: {
		ErrUnderCollateralizedLoan, ErrOverCollateralizedLoan, ErrCollateralCapReached,
		ErrBorrowCapReached, ErrInsufficientCollateral, ErrInsufficientLiquidity,
		ErrExcessRepaymentExceeded, ErrInsufficientSeized, ErrStableBorrowPercentageCapExceeded,
	},
	ClassArithmetic: {ErrArithmeticOverflow, ErrArithmeticUnderflow, ErrDivisionByZero},
}

// ErrorClass reports which class an error returned by the engine belongs to.
func ErrorClass(err error) Class {
	if err == nil {
		return ClassNone
	}
	for _, class := range []Class{ClassArithmetic, ClassSolvency, ClassConfiguration, ClassPrecondition} {
		for _, target := range errorClasses[class] {
			if errors.Is(err, target) {
				return class
			}
		}
	}
	return ClassInternal
}
