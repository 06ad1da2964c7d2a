package compositor

import (
	"gonum.org/v1/gonum/spatial/r3"

	"brickstream/internal/models"
	"brickstream/pkg/catalog"
)

// CombinedBricks merges the channels' quotas into one draw order shared by
// every channel. Each channel ranks its bricks by distance to center; the
// rank becomes the brick's Order, which matches peers across channels.
// Every channel contributes up to its quota of eligible bricks not already
// taken, the merged list is sorted by view distance, and each channel's
// quota list is set to its peers in that order. The reference channel's
// list is returned. Ranks whose peers are all drawn in pass are left out,
// so a fixed anchor moves on to undrawn bricks frame after frame.
func CombinedBricks(channels []*Channel, center r3.Vec, ray models.Ray, ortho bool, order models.UpdateOrder, pass models.Pass) []*models.Brick {
	if len(channels) == 0 {
		return nil
	}

	ranked := make([][]*models.Brick, len(channels))
	for i, ch := range channels {
		ranked[i] = ch.Source.ClosestBricks(center, len(ch.Source.Bricks()))
		for j, b := range ranked[i] {
			b.Order = j
		}
	}
	reference := ranked[0]

	taken := make(map[int]bool)
	var merged []*models.Brick
	for i, ch := range channels {
		count := 0
		for _, b := range ranked[i] {
			if count >= ch.Quota {
				break
			}
			if b.Priority > 0 || taken[b.Order] || b.Order >= len(reference) {
				continue
			}
			if rankDrawn(ranked, b.Order, pass) {
				continue
			}
			taken[b.Order] = true
			merged = append(merged, reference[b.Order])
			count++
		}
	}

	for _, b := range merged {
		b.Dist = models.ViewDistance(b.Box, ray, ortho)
	}
	catalog.SortByDistance(merged, order)
	channels[0].Source.SetQuotaBricks(merged)

	for i := 1; i < len(channels); i++ {
		peers := make([]*models.Brick, 0, len(merged))
		for _, b := range merged {
			if b.Order < len(ranked[i]) {
				peers = append(peers, ranked[i][b.Order])
			}
		}
		channels[i].Source.SetQuotaBricks(peers)
	}
	return merged
}

// rankDrawn reports whether every channel's brick at rank k is drawn
func rankDrawn(ranked [][]*models.Brick, k int, pass models.Pass) bool {
	for _, r := range ranked {
		if k < len(r) && !r[k].Drawn(pass) {
			return false
		}
	}
	return true
}
