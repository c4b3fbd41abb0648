package queue

import "time"

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// backoffDelay doubles per redelivery: 1s, 2s, 4s ... up to backoffCap.
func backoffDelay(numDelivered uint64) time.Duration {
	if numDelivered < 1 {
		numDelivered = 1
	}
	shift := numDelivered - 1
	if shift > 6 {
		return backoffCap
	}
	d := backoffBase << shift
	if d > backoffCap {
		return backoffCap
	}
	return d
}
