package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// HandleFileName 服务发现文件名
const HandleFileName = "tradepoold.json"

// Handle 守护进程的服务发现句柄。
// 纯数据，跨进程的所有交互都走命令协议，绝不直接碰内部状态。
type Handle struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
}

// Addr 返回 host:port 形式的地址
func (h *Handle) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// HandlePath 返回状态目录下的句柄文件路径
func HandlePath(stateDir string) string {
	return filepath.Join(stateDir, HandleFileName)
}

// WriteHandle 在成功绑定端口之后写入服务发现句柄
func WriteHandle(stateDir string, host string, port int) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir %s: %w", stateDir, err)
	}
	h := Handle{
		PID:       os.Getpid(),
		Host:      host,
		Port:      port,
		StartedAt: time.Now(),
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(HandlePath(stateDir), data, 0o644)
}

// ReadHandle 读取句柄并校验进程仍然存活。
// 句柄指向的进程已死时删除过期文件并返回 (nil, nil)。
func ReadHandle(stateDir string) (*Handle, error) {
	path := HandlePath(stateDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var h Handle
	if err := json.Unmarshal(data, &h); err != nil {
		// 句柄文件损坏按过期处理
		_ = os.Remove(path)
		return nil, nil
	}

	if !processAlive(h.PID) {
		_ = os.Remove(path)
		return nil, nil
	}
	return &h, nil
}

// RemoveHandle 删除服务发现句柄
func RemoveHandle(stateDir string) error {
	err := os.Remove(HandlePath(stateDir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// processAlive 用信号 0 探测进程是否存活
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
