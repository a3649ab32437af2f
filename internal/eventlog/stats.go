package eventlog

// Stats 聚合分发日志，常用于仪表盘或健康检查。
type Stats struct {
	Total            int            `json:"total"`
	Succeeded        int            `json:"succeeded"`
	Failed           int            `json:"failed"`
	Duplicates       int            `json:"duplicates"`
	Platforms        map[string]int `json:"platforms"`
	OldestOccurredAt int64          `json:"oldest_occurred_at,omitempty"`
	NewestOccurredAt int64          `json:"newest_occurred_at,omitempty"`
}

func newStats() Stats {
	return Stats{Platforms: make(map[string]int)}
}

// add 合并 count 条具有相同平台、状态与重复标记的记录。
func (s *Stats) add(platform, status string, duplicate bool, count int, oldest, newest int64) {
	if count <= 0 {
		return
	}
	s.Total += count
	if status == StatusError {
		s.Failed += count
	} else {
		s.Succeeded += count
	}
	if duplicate {
		s.Duplicates += count
	}
	s.Platforms[platform] += count
	if s.OldestOccurredAt == 0 || (oldest > 0 && oldest < s.OldestOccurredAt) {
		s.OldestOccurredAt = oldest
	}
	if newest > s.NewestOccurredAt {
		s.NewestOccurredAt = newest
	}
}
