package threads

import "fmt"

type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Phase is the process-wide shutdown phase. It only moves forward.
type Phase int32

const (
	PhaseNone Phase = iota
	PhaseCleanup
	PhaseFinal
	PhaseExit
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseCleanup:
		return "cleanup"
	case PhaseFinal:
		return "final"
	case PhaseExit:
		return "exit"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

type Role string

const (
	RoleLogWriter         Role = "log_writer"
	RoleLogFlusher        Role = "log_flusher"
	RoleLogWriteNotifier  Role = "log_write_notifier"
	RoleLogFlushNotifier  Role = "log_flush_notifier"
	RoleLogCloser         Role = "log_closer"
	RoleLogCheckpointer   Role = "log_checkpointer"
	RoleLockWaitTimeout   Role = "lock_wait_timeout"
	RoleMaster            Role = "master"
	RoleMonitor           Role = "monitor"
	RolePurgeWorker       Role = "purge_worker"
	RolePageCleanerWorker Role = "page_cleaner_worker"
	RoleLRUManager        Role = "lru_manager"
)

// NamedRoles are the singleton roles. Pool members are not listed here.
var NamedRoles = []Role{
	RoleLogWriter,
	RoleLogFlusher,
	RoleLogWriteNotifier,
	RoleLogFlushNotifier,
	RoleLogCloser,
	RoleLogCheckpointer,
	RoleLockWaitTimeout,
	RoleMaster,
	RoleMonitor,
}

type Pool int

const (
	PoolPurge Pool = iota
	PoolPageCleaner
	PoolLRU

	numPools
)

var Pools = []Pool{PoolPurge, PoolPageCleaner, PoolLRU}

func (p Pool) String() string {
	switch p {
	case PoolPurge:
		return "purge"
	case PoolPageCleaner:
		return "page_cleaner"
	case PoolLRU:
		return "lru"
	default:
		return fmt.Sprintf("pool(%d)", int(p))
	}
}

func (p Pool) Role() Role {
	switch p {
	case PoolPurge:
		return RolePurgeWorker
	case PoolPageCleaner:
		return RolePageCleanerWorker
	default:
		return RoleLRUManager
	}
}

// Type is the category a suspended thread is filed under in the wait-slot
// table; Release wakes threads by type.
type Type uint8

const (
	TypeNone Type = iota
	TypeUser
	TypeMaster
	TypePurgeCoordinator
	TypePurgeWorker
	TypePageCleanerCoordinator
	TypePageCleanerWorker
	TypeLRUCoordinator
	TypeLRUWorker
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeUser:
		return "user"
	case TypeMaster:
		return "master"
	case TypePurgeCoordinator:
		return "purge_coordinator"
	case TypePurgeWorker:
		return "purge_worker"
	case TypePageCleanerCoordinator:
		return "page_cleaner_coordinator"
	case TypePageCleanerWorker:
		return "page_cleaner_worker"
	case TypeLRUCoordinator:
		return "lru_coordinator"
	case TypeLRUWorker:
		return "lru_worker"
	default:
		return fmt.Sprintf("type(%d)", t)
	}
}

func (p Pool) CoordinatorType() Type {
	switch p {
	case PoolPurge:
		return TypePurgeCoordinator
	case PoolPageCleaner:
		return TypePageCleanerCoordinator
	default:
		return TypeLRUCoordinator
	}
}

func (p Pool) WorkerType() Type {
	switch p {
	case PoolPurge:
		return TypePurgeWorker
	case PoolPageCleaner:
		return TypePageCleanerWorker
	default:
		return TypeLRUWorker
	}
}
