package session

// Phase 会话连接阶段。只归会话所有：链路回调与显式 API 调用之外
// 没有任何路径可以改变它。
type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseDiscovering
	PhaseAwaitingPermission
	PhaseConnecting
	PhaseDiscoveringServices // 仅 BLE
	PhaseConnected
	PhaseErroring
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseDiscovering:
		return "discovering"
	case PhaseAwaitingPermission:
		return "awaiting_permission"
	case PhaseConnecting:
		return "connecting"
	case PhaseDiscoveringServices:
		return "discovering_services"
	case PhaseConnected:
		return "connected"
	case PhaseErroring:
		return "erroring"
	default:
		return "unknown"
	}
}
