package chat

import (
	"fmt"
	"net"
	"sort"
	"strconv"
)

// ReplicaId is the ordinal identifier of a replica. Higher ids are more
// senior; the most senior reachable replica leads the group.
type ReplicaId int

type Replica struct {
	Id      ReplicaId `json:"id"`
	Address string    `json:"address"`
	Port    int       `json:"port"`
}

func (r Replica) HostPort() string {
	return net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
}

func (r Replica) String() string {
	return fmt.Sprintf("replica-%d", r.Id)
}

// ReplicaSet is the static table of all replicas in the group, fixed at
// process start.
type ReplicaSet []Replica

func (set ReplicaSet) ById(id ReplicaId) (Replica, error) {
	for _, replica := range set {
		if replica.Id == id {
			return replica, nil
		}
	}

	return Replica{}, fmt.Errorf("unknown replica id %d", id)
}

// Peers returns all replicas except the one identified by self.
func (set ReplicaSet) Peers(self ReplicaId) []Replica {
	peers := make([]Replica, 0, len(set))

	for _, replica := range set {
		if replica.Id == self {
			continue
		}

		peers = append(peers, replica)
	}

	return peers
}

// MoreSenior returns the replicas with a strictly higher id than self, in
// descending id order.
func (set ReplicaSet) MoreSenior(self ReplicaId) []Replica {
	seniors := make([]Replica, 0, len(set))

	for _, replica := range set {
		if replica.Id > self {
			seniors = append(seniors, replica)
		}
	}

	sort.Slice(seniors, func(i, j int) bool {
		return seniors[i].Id > seniors[j].Id
	})

	return seniors
}

type ReplicaStatus string

const (
	ReplicaStatusFollower ReplicaStatus = "follower"
	ReplicaStatusLeader   ReplicaStatus = "leader"
)
