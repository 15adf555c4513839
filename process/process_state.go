package process

// ProcessState represents the state of a process
type ProcessState string

const (
	ProcessRunning  ProcessState = "R" // Running
	ProcessSleeping ProcessState = "S" // Sleeping in an interruptible wait
	ProcessWaiting  ProcessState = "D" // Waiting in uninterruptible disk sleep
	ProcessZombie   ProcessState = "Z" // Zombie
	ProcessStopped  ProcessState = "T" // Stopped (on a signal)
	ProcessDead     ProcessState = "X" // Dead
)

// Attachable reports whether memory of a process in this state can be used.
func (s ProcessState) Attachable() bool {
	switch s {
	case ProcessZombie, ProcessDead:
		return false
	}
	return true
}
