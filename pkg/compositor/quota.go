package compositor

import (
	"brickstream/pkg/scheduler"
	"brickstream/pkg/throughput"
)

// PlanQuota sizes the interactive brick quota and splits it across channels.
// The current channel is served first, then its neighbours alternating
// right and left until the quota is used up. Channels left out get zero.
func PlanQuota(channels []*Channel, current int, sched *scheduler.Context, s throughput.Strategy) int {
	quota := sched.ComputeQuota(s)
	for _, ch := range channels {
		ch.Quota = 0
	}
	switch len(channels) {
	case 0:
		return quota
	case 1:
		channels[0].Quota = quota
		return quota
	}
	current = max(0, min(current, len(channels)-1))

	cur := channels[current]
	cur.Quota = min(len(cur.Source.Bricks()), quota)
	assigned := cur.Quota

	for step := 0; step < 2*len(channels) && assigned < quota; step++ {
		idx := current + step/2 + 1
		if step%2 == 1 {
			idx = current - step/2 - 1
		}
		if idx < 0 || idx >= len(channels) {
			continue
		}
		ch := channels[idx]
		ch.Quota = min(len(ch.Source.Bricks()), quota-assigned)
		assigned += ch.Quota
	}
	return quota
}
