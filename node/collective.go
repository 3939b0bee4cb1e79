package node

import (
	"fmt"
	"math/bits"
)

// reserved tag for the point-to-point exchanges a collective performs
// internally. RecvAs filters by source, not tag, so this tag only marks
// collective traffic on the wire; it does not keep a collective from
// consuming an application message from the same partner.
const tagCollectiveData int64 = -2100

// dims returns the hypercube dimension count k for the current cohort
// size (N = 2^k), asserting the power-of-two requirement from §1/§9.
func (n *Node) dims() (k int, err error) {
	nn := n.NodeCount()
	if nn <= 0 || nn&(nn-1) != 0 {
		return 0, fmt.Errorf("%w: got %d", ErrNotPowerOfTwo, nn)
	}
	return bits.TrailingZeros(uint(nn)), nil
}

// isLow reports whether self is the "low" (smaller-id) side of its pair at
// dimension d.
func isLow(id int64, d int) bool {
	return id&(1<<uint(d)) == 0
}

func partnerAt(id int64, d int) int64 {
	return id ^ (1 << uint(d))
}

// finishCollective posts the mandatory completion barrier (§4.3
// "Correctness note"): without it, a node that finishes a collective
// early could inject a send for the next collective that a still-busy
// partner would dequeue and misinterpret.
func (n *Node) finishCollective() {
	n.postBarrier(tagCollectiveDone)
}

// Reduce combines value across all nodes with the associative operator f
// and returns the result at root; the return value at non-root nodes is
// unspecified (this implementation returns the node's own partially
// folded accumulator, which callers must not rely on).
func Reduce[T any](n *Node, root int64, value T, f func(a, b T) T) (T, error) {
	k, err := n.dims()
	if err != nil {
		return value, err
	}
	acc := value
	for d := 0; d < k; d++ {
		partner := partnerAt(n.IAm, d)
		selfBit := (n.IAm >> uint(d)) & 1
		rootBit := (root >> uint(d)) & 1
		if selfBit != rootBit {
			if err := n.SendMsg(partner, acc, tagCollectiveData); err != nil {
				return acc, err
			}
			break
		}
		recvd, err := RecvAs[T](n, partner)
		if err != nil {
			return acc, err
		}
		acc = f(recvd, acc)
	}
	n.finishCollective()
	return acc, nil
}

// Gather concatenates every node's localList, in node-id order, into the
// list returned at root. Non-root returns are unspecified.
func Gather[T any](n *Node, root int64, localList []T) ([]T, error) {
	k, err := n.dims()
	if err != nil {
		return nil, err
	}
	acc := append([]T(nil), localList...)
	for d := 0; d < k; d++ {
		partner := partnerAt(n.IAm, d)
		selfBit := (n.IAm >> uint(d)) & 1
		rootBit := (root >> uint(d)) & 1
		if selfBit != rootBit {
			if err := n.SendMsg(partner, acc, tagCollectiveData); err != nil {
				return acc, err
			}
			break
		}
		recvd, err := RecvAs[[]T](n, partner)
		if err != nil {
			return acc, err
		}
		if isLow(n.IAm, d) {
			acc = append(acc, recvd...)
		} else {
			acc = append(append([]T(nil), recvd...), acc...)
		}
	}
	n.finishCollective()
	return acc, nil
}

// Scatter splits the list held at source into N contiguous fragments, in
// node-id order, and returns the fragment destined for the caller. Nodes
// other than source pass nil for list.
func Scatter[T any](n *Node, source int64, list []T) ([]T, error) {
	k, err := n.dims()
	if err != nil {
		return nil, err
	}
	var cur []T
	if n.IAm == source {
		cur = list
	}
	for d := k - 1; d >= 0; d-- {
		belowMask := int64(1)<<uint(d) - 1
		if n.IAm&belowMask != source&belowMask {
			continue // not yet this node's turn; resolved at a lower dimension
		}
		partner := partnerAt(n.IAm, d)
		selfBit := (n.IAm >> uint(d)) & 1
		sourceBit := (source >> uint(d)) & 1
		if selfBit == sourceBit {
			lowCount := (len(cur) + 1) / 2
			low := cur[:lowCount]
			high := cur[lowCount:]
			if selfBit == 0 {
				if err := n.SendMsg(partner, high, tagCollectiveData); err != nil {
					return nil, err
				}
				cur = low
			} else {
				if err := n.SendMsg(partner, low, tagCollectiveData); err != nil {
					return nil, err
				}
				cur = high
			}
		} else {
			recvd, err := RecvAs[[]T](n, partner)
			if err != nil {
				return nil, err
			}
			cur = recvd
		}
	}
	n.finishCollective()
	return cur, nil
}

// Broadcast delivers root's value to every node. Each node computes the
// highest-order bit at which it differs from root; that is the dimension
// at which it first receives. From that dimension up to the top it
// forwards the value onward.
func Broadcast[T any](n *Node, root int64, value T) (T, error) {
	k, err := n.dims()
	if err != nil {
		return value, err
	}
	d0 := -1
	if n.IAm != root {
		diff := n.IAm ^ root
		d0 = bits.Len64(uint64(diff)) - 1
	}
	for d := 0; d < k; d++ {
		if d < d0 {
			continue
		}
		partner := partnerAt(n.IAm, d)
		if d == d0 {
			recvd, err := RecvAs[T](n, partner)
			if err != nil {
				return value, err
			}
			value = recvd
			continue
		}
		if err := n.SendMsg(partner, value, tagCollectiveData); err != nil {
			return value, err
		}
	}
	n.finishCollective()
	return value, nil
}

// ReduceAll composes Reduce (to root) with a Broadcast of the result, so
// every node ends up holding the fully reduced value.
func ReduceAll[T any](n *Node, root int64, value T, f func(a, b T) T) (T, error) {
	result, err := Reduce(n, root, value, f)
	if err != nil {
		return value, err
	}
	return Broadcast(n, root, result)
}

// GatherAll composes Gather (to root) with a Broadcast of the assembled
// list, so every node ends up holding the full, node-id-ordered list.
func GatherAll[T any](n *Node, root int64, localList []T) ([]T, error) {
	result, err := Gather(n, root, localList)
	if err != nil {
		return nil, err
	}
	return Broadcast(n, root, result)
}
