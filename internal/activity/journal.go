// Package activity keeps an append-only journal of the on-chain actions
// submitted through the dashboard: deployments, registrations and deposits.
package activity

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"x402-Dashboard/pkg/logger"

	"github.com/google/uuid"
)

// Kind 表示被记录的操作类型。
type Kind string

const (
	KindDeploy   Kind = "deploy"
	KindRegister Kind = "register"
	KindDeposit  Kind = "deposit"
)

// Status 表示操作结果。
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Entry 是一条活动记录。
type Entry struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Account      string    `json:"account"`
	AgentAddress string    `json:"agent_address,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Status       Status    `json:"status"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Journal 抽象活动记录的持久化接口。
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	ListByAccount(ctx context.Context, account string, limit int) ([]Entry, error)
	Close() error
}

// MaxDetailLength 是 Detail 字段保留的最大字节数。
const MaxDetailLength = 2048

// Normalize 补齐缺省的 ID 与时间戳，账户地址统一为小写，过长的 Detail 会被截断。
func Normalize(entry Entry, now time.Time) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now.UTC()
	}
	entry.Account = strings.ToLower(entry.Account)
	entry.Detail = truncateDetail(entry.Detail)
	return entry
}

func truncateDetail(detail string) string {
	if len(detail) <= MaxDetailLength {
		return detail
	}
	cut := MaxDetailLength
	for cut > 0 && !utf8.RuneStart(detail[cut]) {
		cut--
	}
	return detail[:cut] + "…"
}

const (
	maxMemoryEntries = 512
	// maxLineBytes 之外的行在恢复时直接跳过。
	maxLineBytes = 64 << 10
)

// MemoryJournal 将记录追加到本地 JSON lines 文件，并在内存中保留最近的条目。
type MemoryJournal struct {
	mu       sync.RWMutex
	dataFile string
	entries  []Entry
}

// NewMemoryJournal 创建文件型活动日志，dataDir 为空时使用当前目录。
func NewMemoryJournal(dataDir string) (*MemoryJournal, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	journal := &MemoryJournal{dataFile: filepath.Join(dataDir, "activity.log")}
	if err := journal.loadFromDisk(); err != nil {
		return nil, err
	}
	return journal, nil
}

// Record 以追加写的方式记录活动，已存在的 ID 视为已记录。
func (m *MemoryJournal) Record(_ context.Context, entry Entry) error {
	entry = Normalize(entry, time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.entries {
		if existing.ID == entry.ID {
			return nil
		}
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开活动日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化活动记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入活动日志失败: %w", err)
	}

	m.entries = append([]Entry{entry}, m.entries...)
	if len(m.entries) > maxMemoryEntries {
		m.entries = m.entries[:maxMemoryEntries]
	}
	return nil
}

// ListByAccount 按时间倒序返回某个账户的记录，limit <= 0 表示全部。
func (m *MemoryJournal) ListByAccount(_ context.Context, account string, limit int) ([]Entry, error) {
	account = strings.ToLower(account)

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Entry, 0)
	for _, entry := range m.entries {
		if entry.Account != account {
			continue
		}
		results = append(results, entry)
		if limit > 0 && len(results) == limit {
			break
		}
	}
	return results, nil
}

// Close 无需释放资源。
func (m *MemoryJournal) Close() error { return nil }

func (m *MemoryJournal) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取活动日志失败: %w", err)
	}
	defer file.Close()

	log := logger.Named("activity")
	reader := bufio.NewReader(file)
	seen := make(map[string]struct{})
	var restored []Entry
	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("解析活动日志失败: %w", readErr)
		}
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case len(line) > maxLineBytes:
			log.Warn("跳过过长的活动记录", "line", lineNo, "bytes", len(line))
		default:
			var entry Entry
			if err := json.Unmarshal(line, &entry); err != nil {
				log.Warn("跳过无法解析的活动记录", "line", lineNo, "error", err)
				break
			}
			if _, dup := seen[entry.ID]; dup {
				break
			}
			seen[entry.ID] = struct{}{}
			restored = append(restored, entry)
		}
		if readErr != nil {
			break
		}
	}

	// 文件按写入顺序排列，内存中保持最新在前。
	slices.Reverse(restored)
	if len(restored) > maxMemoryEntries {
		restored = restored[:maxMemoryEntries]
	}
	m.entries = restored
	return nil
}
