package model

import "fmt"

// Role tells leaders apart from the subordinates they supervise.
type Role int

const (
	RoleUnknown Role = iota
	RoleLeader
	RoleSubordinate
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleSubordinate:
		return "subordinate"
	default:
		return "unknown"
	}
}

// Node is an opaque handle for a simulated device. Radio devices, IP stacks
// and routing belong to the network layer and are not modelled here.
type Node struct {
	ID   string
	Name string
	Role Role

	// ClusterID is the cluster the node belongs to. A leader belongs to
	// exactly one cluster; subordinates are owned by a single cluster for
	// the whole run.
	ClusterID uint32
}

// LeaderID returns the node ID used for the leader of cluster id.
func LeaderID(clusterID uint32) string {
	return fmt.Sprintf("Leader-%d", clusterID)
}

// SubordinateID returns the node ID used for the n-th (1-based) subordinate
// of cluster id.
func SubordinateID(clusterID uint32, n int) string {
	return fmt.Sprintf("C%d-N%d", clusterID, n)
}
