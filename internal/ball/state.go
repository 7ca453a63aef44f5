package ball

// State 球装置状态
type State int

const (
	// StateInvalid 启动后尚未完成首次计数
	StateInvalid State = iota
	// StateIdle 空闲
	StateIdle
	// StateWaitingForBall 等待来球（弹射请求已排队但装置为空）
	StateWaitingForBall
	// StateWaitingForBallMechanical 等待来球且预备机械弹射
	StateWaitingForBallMechanical
	// StateWaitForEject 有弹射请求，等待目标腾出容量
	StateWaitForEject
	// StateEjecting 弹射动作进行中
	StateEjecting
	// StateBallLeft 球已离开装置，等待弹射确认
	StateBallLeft
	// StateFailedEject 弹射失败（球没离开或掉了回来）
	StateFailedEject
	// StateEjectBroken 弹射机构判定损坏，只能外部复位
	StateEjectBroken
	// StateFailedConfirm 球离开后确认超时
	StateFailedConfirm
	// StateEjectConfirmed 弹射确认成功
	StateEjectConfirmed
	// StateLostBalls 球判定永久丢失
	StateLostBalls
	// StateMissingBalls 装置内的球不见了
	StateMissingBalls
)

var stateNames = map[State]string{
	StateInvalid:                  "invalid",
	StateIdle:                     "idle",
	StateWaitingForBall:           "waiting_for_ball",
	StateWaitingForBallMechanical: "waiting_for_ball_mechanical",
	StateWaitForEject:             "wait_for_eject",
	StateEjecting:                 "ejecting",
	StateBallLeft:                 "ball_left",
	StateFailedEject:              "failed_eject",
	StateEjectBroken:              "eject_broken",
	StateFailedConfirm:            "failed_confirm",
	StateEjectConfirmed:           "eject_confirmed",
	StateLostBalls:                "lost_balls",
	StateMissingBalls:             "missing_balls",
}

// String 返回状态名
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// legalTransitions 合法状态转换表
// 走到表外的转换是逻辑缺陷，运行时会被当作不变量违反处理
var legalTransitions = map[State][]State{
	StateInvalid:        {StateIdle},
	StateIdle:           {StateWaitingForBall, StateWaitForEject, StateMissingBalls, StateWaitingForBallMechanical},
	StateWaitingForBall: {StateIdle, StateWaitingForBallMechanical},
	StateWaitingForBallMechanical: {StateIdle, StateWaitingForBall, StateEjectConfirmed},
	StateWaitForEject:             {StateEjecting},
	StateEjecting:                 {StateBallLeft, StateFailedEject},
	StateBallLeft:                 {StateEjectConfirmed, StateFailedConfirm},
	StateFailedEject:              {StateEjectBroken, StateEjecting},
	StateEjectBroken:              {},
	StateFailedConfirm:            {StateFailedEject, StateEjectConfirmed, StateLostBalls},
	StateEjectConfirmed:           {StateIdle, StateLostBalls},
	StateLostBalls:                {StateIdle},
	StateMissingBalls:             {StateBallLeft, StateIdle},
}

// canTransition 判断转换是否合法
func canTransition(from State, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
