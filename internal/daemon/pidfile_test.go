package daemon

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestHandleRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if err := WriteHandle(dir, "127.0.0.1", 8400); err != nil {
		t.Fatalf("WriteHandle failed: %v", err)
	}

	h, err := ReadHandle(dir)
	if err != nil {
		t.Fatalf("ReadHandle failed: %v", err)
	}
	if h == nil {
		t.Fatalf("expected live handle for own pid")
	}
	if h.PID != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), h.PID)
	}
	if h.Addr() != "127.0.0.1:8400" {
		t.Fatalf("expected 127.0.0.1:8400, got %s", h.Addr())
	}

	if err := RemoveHandle(dir); err != nil {
		t.Fatalf("RemoveHandle failed: %v", err)
	}
	if h, _ := ReadHandle(dir); h != nil {
		t.Fatalf("expected no handle after remove")
	}
	// 重复删除不报错
	if err := RemoveHandle(dir); err != nil {
		t.Fatalf("second RemoveHandle failed: %v", err)
	}
}

func TestReadHandleMissing(t *testing.T) {
	h, err := ReadHandle(t.TempDir())
	if err != nil {
		t.Fatalf("missing handle should not error: %v", err)
	}
	if h != nil {
		t.Fatalf("expected nil handle, got %+v", h)
	}
}

// 指向死进程的句柄被视为过期并清理
func TestReadHandleStale(t *testing.T) {
	dir := t.TempDir()

	stale := Handle{PID: 999999999, Host: "127.0.0.1", Port: 8400, StartedAt: time.Now()}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(HandlePath(dir), data, 0o644); err != nil {
		t.Fatalf("write stale handle: %v", err)
	}

	h, err := ReadHandle(dir)
	if err != nil {
		t.Fatalf("ReadHandle failed: %v", err)
	}
	if h != nil {
		t.Fatalf("stale handle should be treated as absent")
	}
	if _, err := os.Stat(HandlePath(dir)); !os.IsNotExist(err) {
		t.Fatalf("stale handle file should be deleted")
	}
}

func TestReadHandleCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(HandlePath(dir), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt handle: %v", err)
	}

	h, err := ReadHandle(dir)
	if err != nil {
		t.Fatalf("corrupt handle should not error: %v", err)
	}
	if h != nil {
		t.Fatalf("corrupt handle should be treated as absent")
	}
}
