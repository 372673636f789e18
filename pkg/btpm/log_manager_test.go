package btpm

import (
	"errors"
	"log/slog"
	"testing"
)

type recordingHandler struct {
	entries []LogEntry
}

func (h *recordingHandler) Handle(entry LogEntry) error {
	h.entries = append(h.entries, entry)
	return nil
}

func TestLogManager(t *testing.T) {
	lm := quietLogs()
	handler := &recordingHandler{}
	lm.AddHandler(handler)

	lm.LogDebug("a", "被过滤")
	lm.LogInfo("a", "信息", "key", "value")
	lm.LogWarn("b", "警告", "orphan")
	lm.LogError("a", "错误", errors.New("失败"))

	buffer := lm.GetLogBuffer()
	if len(buffer) != 3 {
		t.Fatalf("默认级别下应记录 3 条，实际 %d", len(buffer))
	}
	if buffer[0].Fields["key"] != "value" {
		t.Errorf("字段未记录: %+v", buffer[0].Fields)
	}
	if _, ok := buffer[1].Fields["!BADKEY"]; !ok {
		t.Errorf("落单的值应记为 !BADKEY: %+v", buffer[1].Fields)
	}
	if buffer[2].Error == nil || buffer[2].Level != slog.LevelError {
		t.Errorf("错误条目不正确: %+v", buffer[2])
	}
	if len(handler.entries) != 3 {
		t.Errorf("处理器应收到 3 条，实际 %d", len(handler.entries))
	}
	if got := len(lm.EntriesFor("a")); got != 2 {
		t.Errorf("组件 a 应有 2 条，实际 %d", got)
	}

	lm.SetLogLevel(slog.LevelDebug)
	lm.LogDebug("a", "调试")
	if got := len(lm.GetLogBuffer()); got != 4 {
		t.Errorf("调整级别后应记录调试日志，实际 %d 条", got)
	}

	lm.ClearBuffer()
	if len(lm.GetLogBuffer()) != 0 {
		t.Error("清空后缓冲区应为空")
	}
}

func TestLogManager_BufferBound(t *testing.T) {
	lm := quietLogs()
	for i := 0; i < DefaultLogBufferSize+10; i++ {
		lm.LogInfo("c", "条目", "index", i)
	}
	buffer := lm.GetLogBuffer()
	if len(buffer) != DefaultLogBufferSize {
		t.Fatalf("缓冲区应保留 %d 条，实际 %d", DefaultLogBufferSize, len(buffer))
	}
	if buffer[0].Fields["index"] != 10 {
		t.Errorf("应丢弃最早的条目，首条 index=%v", buffer[0].Fields["index"])
	}
}
