package loadbalance

import (
	"math/rand/v2"

	"smartapp-rpc/discovery"
)

// WeightedRandomBalancer picks instances with probability proportional to
// their weight. Non-positive weights count as 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []discovery.ServiceInstance, _ string) (*discovery.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	// 计算总权重
	totalWeight := 0
	for _, v := range instances {
		totalWeight += weight(v)
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.IntN(totalWeight)
	for i := range instances {
		r -= weight(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func weight(s discovery.ServiceInstance) int {
	if s.Weight <= 0 {
		return 1
	}
	return s.Weight
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
