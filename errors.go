package kernel

import (
	"errors"
)

// Application context errors
var (
	// Phase machine errors
	ErrInvalidPhaseTransition     = errors.New("invalid application phase transition")
	ErrPhaseTransitionInProgress  = errors.New("phase transition already in progress")
	ErrContextAlreadyInitialized  = errors.New("application context already initialized")
	ErrContextNotRunning          = errors.New("application context is not running")
	ErrContextNotReady            = errors.New("application context is not ready")

	// Wiring errors
	ErrEventHubNil     = errors.New("event hub is nil")
	ErrPluginEngineNil = errors.New("plugin engine is nil")
)
