package protocol

import "sync"

// 字段解析静默回零的诊断计数。宽容解析是对外约定，
// 但触发频率必须可观测，供指标层导出。
var (
	defaultsMu sync.Mutex
	defaults   = map[string]uint64{}
)

func noteDefault(field string) {
	defaultsMu.Lock()
	defaults[field]++
	defaultsMu.Unlock()
}

// ParseDefaults 返回按字段累计的回零次数快照
func ParseDefaults() map[string]uint64 {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	out := make(map[string]uint64, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}
