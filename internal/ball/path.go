package ball

import (
	"github.com/wfunc/pinball/internal/errors"
	"go.uber.org/zap"
)

// FindPathToTarget 深度优先找一条到目标的弹射路径
// 返回的路径含起点和终点，找不到返回nil。配置校验保证图无环
func (d *Device) FindPathToTarget(target Node) []Node {
	if Node(d) == target {
		return []Node{d}
	}
	for _, t := range d.targets {
		if t == target {
			return []Node{d, t}
		}
		if td, ok := t.(*Device); ok {
			if p := td.FindPathToTarget(target); p != nil {
				return append([]Node{d}, p...)
			}
		}
	}
	return nil
}

// findPathToTrough 找一条到最近料槽的路径，排水装置送回用
func (d *Device) findPathToTrough() []Node {
	return d.findPathToTag("trough")
}

// findPathToTag 找一条到最近带指定标签节点的路径
func (d *Device) findPathToTag(tag string) []Node {
	for _, t := range d.targets {
		if t.HasTag(tag) {
			return []Node{d, t}
		}
	}
	for _, t := range d.targets {
		if td, ok := t.(*Device); ok {
			if p := td.findPathToTag(tag); p != nil {
				return append([]Node{d}, p...)
			}
		}
	}
	return nil
}

// setupEjectChain 沿路径布设一条弹射链
// 可用数只在两端动账：起点减一、终点加一，中间装置只是过路。
// 每一跳各排一个弹射请求，请求里都记着最终目标以便丢球时回滚
func (d *Device) setupEjectChain(path []Node, playerControlled bool) error {
	if len(path) < 2 {
		return errors.New(errors.ErrNoPathToTarget, d.name)
	}
	if d.availableBalls <= 0 {
		return errors.New(errors.ErrNoAvailableBalls, d.name)
	}

	final := path[len(path)-1]
	d.availableBalls--
	final.addAvailable(1)

	d.log.Debug("布设弹射链",
		zap.String("target", final.Name()),
		zap.Int("hops", len(path)-1))

	// 先把每一跳的请求都排进去再逐个激活，
	// 激活会同步级联，排一半就动手会让下游错过自己的请求
	hops := make([]*Device, 0, len(path)-1)
	for i := 0; i < len(path)-1; i++ {
		dev, ok := path[i].(*Device)
		if !ok {
			return errors.Newf(errors.ErrNoPathToTarget,
				"路径中间节点 %s 不是球装置", path[i].Name())
		}
		req := &ejectRequest{
			target:      path[i+1],
			chainTarget: final,
			mechanical:  dev.cfg.MechanicalEject,
		}
		if playerControlled && dev.cfg.PlayerControlledEjectEvent != "" {
			req.triggerEvent = dev.cfg.PlayerControlledEjectEvent
		}
		dev.ejectQueue = append(dev.ejectQueue, req)
		hops = append(hops, dev)
	}
	for _, dev := range hops {
		dev.kickEjectQueue()
	}
	return nil
}
