package ball

import (
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/event"
	"go.uber.org/zap"
)

// 开机后尚未完成首次清点
const ballsUnknown = -1

// Controller 全机球数总控
// 维护在册球数、开局前的归位检查和收球调度，
// 具体的球进出记账由各装置和台面自己负责
type Controller struct {
	m   *Machine
	log *zap.Logger

	numBallsKnown int

	// 收球完成监听现场，同一时间只有一场收球
	collectKeys []event.HandlerKey
	collectTag  string
}

func newController(m *Machine) *Controller {
	return &Controller{
		m:             m,
		log:           m.log.With(zap.String("component", "ball_controller")),
		numBallsKnown: ballsUnknown,
	}
}

// NumBallsKnown 在册球数，未清点时为-1
func (c *Controller) NumBallsKnown() int { return c.numBallsKnown }

// UpdateNumBallsKnown 重新清点全机球数
// 有开关还没稳定就稍后重试，数字变了发事件广播
func (c *Controller) UpdateNumBallsKnown() {
	count, err := c.countStableBalls()
	if err != nil {
		c.m.sched.Add("ball_controller_recount", recountRetryDelay, c.UpdateNumBallsKnown)
		return
	}
	if count == c.numBallsKnown {
		return
	}

	old := c.numBallsKnown
	c.numBallsKnown = count
	c.log.Info("在册球数更新",
		zap.Int("balls", count),
		zap.Int("previous", old))
	c.m.bus.Post("machine_ball_count_change", event.Args{
		"balls":    count,
		"previous": old,
	})
}

// countStableBalls 清点装置和台面上的全部球
func (c *Controller) countStableBalls() (int, error) {
	total := 0
	for _, d := range c.m.devices {
		count, err := d.countBalls()
		if err != nil {
			return 0, err
		}
		total += count
	}
	for _, pf := range c.m.playfields {
		total += pf.Balls()
	}
	return total, nil
}

// RequestToStartGame 开局前检查
// 球不够直接拒绝；球够但没归位就发起收球，等收完再来
func (c *Controller) RequestToStartGame() error {
	if c.numBallsKnown == ballsUnknown {
		c.UpdateNumBallsKnown()
	}
	if c.numBallsKnown < c.m.cfg.MinBalls {
		return errors.Newf(errors.ErrGameStartDenied,
			"在册球数 %d 少于开局所需 %d", c.numBallsKnown, c.m.cfg.MinBalls)
	}
	if !c.AreBallsCollected("home") {
		c.CollectBalls("home")
		return errors.New(errors.ErrGameStartDenied, "球未全部归位，收球中")
	}
	return nil
}

// AreBallsCollected 在册球是否都已在带指定标签的装置里
// 在册数为零时没有球需要归位，视为已收齐；
// 没有任何装置带这个标签时同样视为已收齐，不存在的归位点拦不住任何人
func (c *Controller) AreBallsCollected(tag string) bool {
	if c.numBallsKnown <= 0 {
		return true
	}
	matched := false
	collected := 0
	for _, d := range c.m.devices {
		if d.HasTag(tag) {
			matched = true
			collected += d.Balls()
		}
	}
	if !matched {
		return true
	}
	return collected >= c.numBallsKnown
}

// CollectBalls 把散落各处的球收进带指定标签的装置
// 广播collect_balls让台面上的球先排空，再让无关装置把存货送走，
// 收齐后发collecting_balls_complete
func (c *Controller) CollectBalls(tag string) {
	if tag == "" {
		tag = "home"
	}
	c.log.Info("开始收球", zap.String("tag", tag))
	c.m.bus.Post("collect_balls", event.Args{"tag": tag})

	// 无关装置把存货朝默认目标清空，球经台面排水自己回家
	for _, d := range c.m.devices {
		if d.HasTag(tag) || d.AvailableBalls() == 0 {
			continue
		}
		if path := d.findPathToTag(tag); path != nil {
			for d.AvailableBalls() > 0 {
				if err := d.setupEjectChain(path, false); err != nil {
					c.log.Error("收球弹射失败", zap.Error(err))
					break
				}
			}
			continue
		}
		d.EjectAll(nil)
	}

	c.watchCollection(tag)
	c.checkCollection()
}

// watchCollection 盯住收球目标装置的入球，收齐即收场
func (c *Controller) watchCollection(tag string) {
	c.unwatchCollection()
	c.collectTag = tag
	for _, d := range c.m.devices {
		if !d.HasTag(tag) {
			continue
		}
		key := c.m.bus.AddHandler("balldevice_"+d.Name()+"_ball_enter",
			func(event.Args) any {
				c.checkCollection()
				return nil
			}, 0)
		c.collectKeys = append(c.collectKeys, key)
	}
}

func (c *Controller) unwatchCollection() {
	c.m.bus.RemoveHandlers(c.collectKeys)
	c.collectKeys = nil
	c.collectTag = ""
}

func (c *Controller) checkCollection() {
	if c.collectTag == "" || !c.AreBallsCollected(c.collectTag) {
		return
	}
	tag := c.collectTag
	c.unwatchCollection()
	c.log.Info("收球完成", zap.String("tag", tag))
	c.m.bus.Post("collecting_balls_complete", event.Args{"tag": tag})
}

// ballLost 一颗球判定永久丢失
// 在册数跟着减，再让记账台面补发一颗顶上
func (c *Controller) ballLost(d *Device, n int) {
	if c.numBallsKnown > 0 {
		c.numBallsKnown -= n
		if c.numBallsKnown < 0 {
			c.numBallsKnown = 0
		}
	}
	c.m.bus.Post("machine_ball_count_change", event.Args{
		"balls": c.numBallsKnown,
	})

	if pf := d.ballMissingTarget(); pf != nil {
		pf.AddMissingBalls(n)
	}
}

// deviceCaptured 装置收到了不速之客
// 台面账上有球的照常扣账，台面盖不住的部分按找回的球入册
func (c *Controller) deviceCaptured(d *Device, n int) {
	covered := 0
	if pf := d.capturesFrom(); pf != nil {
		covered = pf.Balls()
		if covered > n {
			covered = n
		}
		if covered > 0 {
			pf.ballCaptured(covered)
		}
	}
	if found := n - covered; found > 0 {
		c.foundNewBalls(d, found)
	}
}

// foundNewBalls 捕到了在册之外的球，多半是先前判丢的球自己滚了回来
func (c *Controller) foundNewBalls(d *Device, n int) {
	if c.numBallsKnown == ballsUnknown {
		c.UpdateNumBallsKnown()
		return
	}
	old := c.numBallsKnown
	c.numBallsKnown += n
	c.log.Info("找回在册之外的球",
		zap.String("device", d.Name()),
		zap.Int("found", n),
		zap.Int("balls", c.numBallsKnown))
	c.m.bus.Post("machine_ball_count_change", event.Args{
		"balls":    c.numBallsKnown,
		"previous": old,
	})
}

// ballSearchFailed 寻球放弃
// 台面记账清零、在册数扣除，再按配置的处置走
func (c *Controller) ballSearchFailed(pf *Playfield) {
	gone := pf.zeroCounts()
	if c.numBallsKnown > 0 {
		c.numBallsKnown -= gone
		if c.numBallsKnown < 0 {
			c.numBallsKnown = 0
		}
	}
	c.m.bus.Post("machine_ball_count_change", event.Args{
		"balls": c.numBallsKnown,
	})

	action := pf.cfg.BallSearchFailedAction
	c.log.Error("寻球失败处置",
		zap.String("action", action),
		zap.Int("balls_gone", gone))

	switch action {
	case "new_ball":
		if c.numBallsKnown <= 0 {
			// 一颗球都不剩，只能结束整局
			c.m.bus.Post("ball_search_failed_end_game", event.Args{"playfield": pf.name})
			return
		}
		if err := pf.AddBall(false); err != nil {
			c.log.Error("补发新球失败", zap.Error(err))
		}
	case "end_game":
		c.m.bus.Post("ball_search_failed_end_game", event.Args{"playfield": pf.name})
	default:
		c.m.bus.Post("ball_search_failed_end_ball", event.Args{"playfield": pf.name})
	}
}

// playfieldJump 台面没球却有开关活动
// 活动本身就是球在场上的证据：先记上账，再做台面总账纠偏
func (c *Controller) playfieldJump(to *Playfield) {
	to.MarkBallsOnField(1)
	c.correctPlayfieldCount(to)
}

// correctPlayfieldCount 台面总账纠偏
// 各台面合计超出散球数时把多记的扣掉，优先扣记账自洽的台面（球跳了台）；
// 找不到出处就重新清点。纠偏后各台面的可用数一律对齐实际球数
func (c *Controller) correctPlayfieldCount(to *Playfield) {
	loose := c.looseBalls()
	onFields := 0
	for _, pf := range c.m.playfields {
		onFields += pf.Balls()
	}

	switch {
	case loose < 0:
		// 装置持有数比在册还多，在册数已经失真
		c.UpdateNumBallsKnown()
	case onFields > loose:
		for excess := onFields - loose; excess > 0; excess-- {
			src := c.jumpSource(to)
			if src == nil {
				c.UpdateNumBallsKnown()
				break
			}
			src.addAvailable(-1)
			src.setBalls(src.Balls() - 1)
			c.log.Info("球跳台",
				zap.String("from", src.Name()),
				zap.String("to", to.Name()))
			c.m.bus.Post("playfield_jump", event.Args{
				"source": src.Name(),
				"target": to.Name(),
			})
		}
	}

	for _, pf := range c.m.playfields {
		if pf.availableBalls != pf.balls {
			c.log.Warn("台面可用球数与实际不符，强制对齐",
				zap.String("playfield", pf.Name()),
				zap.Int("balls", pf.balls),
				zap.Int("available", pf.availableBalls))
			pf.availableBalls = pf.balls
		}
	}
}

// looseBalls 在册数减去装置持有数，即应当散落在台面上的球
func (c *Controller) looseBalls() int {
	if c.numBallsKnown == ballsUnknown {
		return 0
	}
	held := 0
	for _, d := range c.m.devices {
		held += d.Balls()
	}
	return c.numBallsKnown - held
}

// jumpSource 找一个可以把多记的球扣走的台面，优先记账自洽的
func (c *Controller) jumpSource(to *Playfield) *Playfield {
	var fallback *Playfield
	for _, pf := range c.m.playfields {
		if pf == to || pf.Balls() == 0 {
			continue
		}
		if pf.AvailableBalls() == pf.Balls() {
			return pf
		}
		fallback = pf
	}
	return fallback
}
