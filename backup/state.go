package backup

import (
	"errors"
	"fmt"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

// Flow names an orchestrated flow.
type Flow string

const (
	FlowCreate  Flow = "create"
	FlowRestore Flow = "restore"
)

// State is a step of a flow.
type State int

const (
	StateIdle State = iota
	StateGeneratingShare
	StateRegisteringOnChain
	StateUploading
	StateSyncingServer
	StateCollectingShares
	StateBuildingMultiSigTx
	StateWatchingTransaction
	StateSyncingAccount
	StateDone
	StateFailed
	StateNotFound
	StateWrongPin
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGeneratingShare:
		return "generating_share"
	case StateRegisteringOnChain:
		return "registering_on_chain"
	case StateUploading:
		return "uploading"
	case StateSyncingServer:
		return "syncing_server"
	case StateCollectingShares:
		return "collecting_shares"
	case StateBuildingMultiSigTx:
		return "building_multisig_tx"
	case StateWatchingTransaction:
		return "watching_transaction"
	case StateSyncingAccount:
		return "syncing_account"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateNotFound:
		return "not_found"
	case StateWrongPin:
		return "wrong_pin"
	default:
		return "unknown"
	}
}

// Terminal reports whether the flow has ended in s.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateNotFound, StateWrongPin:
		return true
	}
	return false
}

// Transition is published to observers on every state change.
type Transition struct {
	Flow Flow
	From State
	To   State

	// Shares is the number of collected shares during restore.
	Shares int

	// Err is set for failure states.
	Err error
}

var (
	// ErrRestoreIncomplete is returned when the collected shares do not carry
	// enough weight to authorize the restore transaction.
	ErrRestoreIncomplete = fmt.Errorf("%w: not enough shares to restore", interfaces.ErrProtocolRejection)

	// ErrKeyAddedRetryUpload is returned when a share key was added on-chain but its
	// backup could not be uploaded. Retrying Create reuses the registered key.
	ErrKeyAddedRetryUpload = errors.New("key added on-chain, backup upload must be retried")

	// ErrNoRestore is returned when a restore step is called without BeginRestore.
	ErrNoRestore = errors.New("no restore in progress")
)

// StepError records where a flow failed.
type StepError struct {
	Flow Flow
	Step State

	// Source is the backend, provider or endpoint involved, when known.
	Source string

	Err error
}

func (e *StepError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s backup failed at %s (%s): %v", e.Flow, e.Step, e.Source, e.Err)
	}
	return fmt.Sprintf("%s backup failed at %s: %v", e.Flow, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// failureState maps an error to the terminal state it ends a restore in. NotFound
// and WrongPin only describe a share source, so later steps always end in Failed.
func failureState(step State, err error) State {
	if step != StateCollectingShares {
		return StateFailed
	}
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return StateNotFound
	case errors.Is(err, interfaces.ErrDecryption):
		return StateWrongPin
	default:
		return StateFailed
	}
}
