package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEvent = errors.New("duplicate execution id")
	ErrNotLoggedOn    = errors.New("no logged-on order-entry session")
	ErrNoLocateRoute  = errors.New("no active locate route")
	ErrNoCopyRules    = errors.New("no active copy rules for account")
	ErrMissingField   = errors.New("mandatory field missing")
	ErrInvalidReplace = errors.New("replace ClOrdID equals OrigClOrdID")
	ErrContextDone    = errors.New("context cancelled")
	ErrShuttingDown   = errors.New("engine is shutting down")
)
