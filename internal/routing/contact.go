// Package routing implements the Kademlia k-bucket routing table
// (spec §3 "Routing Table", §4.2).
package routing

import (
	"fmt"
	"sort"

	"github.com/kadledger/node/internal/identity"
)

// Contact is a (NodeId, address, public key) tuple. Equality is by
// NodeId alone (spec §3).
type Contact struct {
	ID        identity.ID
	Address   string // host:port
	PublicKey identity.PublicKey
}

// NewContact constructs a Contact.
func NewContact(id identity.ID, address string, pub identity.PublicKey) Contact {
	return Contact{ID: id, Address: address, PublicKey: pub}
}

// Equal compares contacts by NodeId.
func (c Contact) Equal(other Contact) bool {
	return c.ID.Equal(other.ID)
}

func (c Contact) String() string {
	return fmt.Sprintf("%s@%s", c.ID.String(), c.Address)
}

// candidateList sorts contacts by ascending XOR distance to a target,
// breaking ties by lexicographic NodeId (spec §4.4 "Tie-breaks").
type candidateList struct {
	target   identity.ID
	contacts []Contact
}

func newCandidateList(target identity.ID) *candidateList {
	return &candidateList{target: target}
}

func (cl *candidateList) add(contacts ...Contact) {
	cl.contacts = append(cl.contacts, contacts...)
}

func (cl *candidateList) sort() {
	sort.Slice(cl.contacts, func(i, j int) bool {
		di := cl.contacts[i].ID.Distance(cl.target)
		dj := cl.contacts[j].ID.Distance(cl.target)
		if di.Equal(dj) {
			return cl.contacts[i].ID.Less(cl.contacts[j].ID)
		}
		return di.Less(dj)
	})
}

func (cl *candidateList) take(n int) []Contact {
	cl.sort()
	if n > len(cl.contacts) {
		n = len(cl.contacts)
	}
	out := make([]Contact, n)
	copy(out, cl.contacts[:n])
	return out
}

func (cl *candidateList) len() int { return len(cl.contacts) }
