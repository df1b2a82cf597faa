package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Connection / transport errors (-20010 to -20039) ----

var (
	ErrNotConnected     = &EngineError{Code: -20010, Message: "not connected to microscope server"}
	ErrTransportFailure = &EngineError{Code: -20011, Message: "transport failure during command"}
	ErrRoutingRejected  = &EngineError{Code: -20012, Message: "central server rejected routing table"}
	ErrInitRejected     = &EngineError{Code: -20013, Message: "instrument initialization rejected"}
	ErrCommandTimeout   = &EngineError{Code: -20014, Message: "command timed out"}
	ErrBadResponse      = &EngineError{Code: -20015, Message: "malformed response from server"}
)

// ---- Process supervision errors (-20040 to -20069) ----

var (
	ErrSpawnFailure  = &EngineError{Code: -20040, Message: "backend process failed to start"}
	ErrPortNotReady  = &EngineError{Code: -20041, Message: "backend port never became ready"}
	ErrUnknownModule = &EngineError{Code: -20042, Message: "unknown backend module"}
)

// ---- Experiment errors (-20070 to -20099) ----

var (
	ErrConstraintViolation = &EngineError{Code: -20070, Message: "experiment rejected due to constraints"}
	ErrUnknownAction       = &EngineError{Code: -20071, Message: "action name not in operation registry"}
	ErrActionFailure       = &EngineError{Code: -20072, Message: "action failed during execution"}
	ErrFootprintInvalid    = &EngineError{Code: -20074, Message: "experiment footprint validation failed"}
	ErrInvalidPhase        = &EngineError{Code: -20075, Message: "invalid experiment phase transition"}
)

// ---- Facade / safety errors (-20100 to -20129) ----

var (
	ErrStageBounds   = &EngineError{Code: -20100, Message: "stage position outside configured bounds"}
	ErrImageTooLarge = &EngineError{Code: -20101, Message: "requested image size exceeds configured maximum"}
)

// ---- Store / config errors (-20130 to -20159) ----

var (
	ErrStoreInit     = &EngineError{Code: -20130, Message: "failed to initialize store"}
	ErrStoreQuery    = &EngineError{Code: -20131, Message: "store query failed"}
	ErrStoreWrite    = &EngineError{Code: -20132, Message: "store write failed"}
	ErrRunNotFound   = &EngineError{Code: -20133, Message: "experiment run not found"}
	ErrConfigInvalid = &EngineError{Code: -20134, Message: "invalid configuration"}
)
