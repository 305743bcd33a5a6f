package core

import "errors"

var (
	ErrRegionNotFound   = errors.New("region not found")
	ErrDuplicateRegion  = errors.New("region already registered")
	ErrNoRegionAvailable = errors.New("no active region available")
	ErrUnknownConflict  = errors.New("conflict not found")
	ErrConflictResolved = errors.New("conflict already resolved")
	ErrUnknownStrategy  = errors.New("unknown resolution strategy")
	ErrReplicationDisabled = errors.New("replication is disabled")
)
