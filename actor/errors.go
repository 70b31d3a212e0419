package actor

import "errors"

// ErrBadPath indicates that an actor path or address string could not be
// parsed: empty system name, malformed endpoint, or control characters.
var ErrBadPath = errors.New("bad actor path")

// ErrActorTerminated indicates that an operation failed because the target
// actor was terminated or in the process of shutting down.
var ErrActorTerminated = errors.New("actor terminated")

// ErrDuplicateName indicates that a spawn failed because the parent already
// has a child with the requested name.
var ErrDuplicateName = errors.New("duplicate child name")

// ErrAskTimeout indicates that an ask operation did not receive a reply
// within its timeout.
var ErrAskTimeout = errors.New("ask timed out")

// ErrAskFailed indicates that an ask operation received a reply that could
// not be delivered to the asker, typically because the reply value was not of
// the expected response type.
var ErrAskFailed = errors.New("ask failed")

// ErrShutdown indicates that the actor system is shutting down. Pending asks
// are failed with this error when the system terminates.
var ErrShutdown = errors.New("actor system shutting down")

// ErrCancelled indicates that a future was cancelled before it completed.
var ErrCancelled = errors.New("future cancelled")

// ErrMainExists indicates that SpawnMain was called on a system that already
// hosts a main actor at /user.
var ErrMainExists = errors.New("main actor already exists")
