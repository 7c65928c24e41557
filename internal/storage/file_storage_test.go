// internal/storage/file_storage_test.go
package storage

import (
	"testing"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()

	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}
	t.Cleanup(fs.Close)
	return fs
}

func TestSaveAndLoadTextFile(t *testing.T) {
	fs := newTestStorage(t)

	content := []byte("满纸荒唐言")
	if err := fs.SaveTextFile("docs", "preface.txt", content); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}

	loaded, err := fs.LoadTextFile("docs", "preface.txt")
	if err != nil {
		t.Fatalf("读取文件失败: %v", err)
	}
	if string(loaded) != string(content) {
		t.Errorf("往返内容不符: %q", loaded)
	}

	// 覆盖写入应使缓存失效，读到新内容
	updated := []byte("一把辛酸泪")
	if err := fs.SaveTextFile("docs", "preface.txt", updated); err != nil {
		t.Fatalf("覆盖保存失败: %v", err)
	}
	loaded, err = fs.LoadTextFile("docs", "preface.txt")
	if err != nil {
		t.Fatalf("覆盖后读取失败: %v", err)
	}
	if string(loaded) != string(updated) {
		t.Errorf("覆盖后应读到新内容，实际 %q", loaded)
	}
}

func TestListFiles_ExtFilter(t *testing.T) {
	fs := newTestStorage(t)

	for _, name := range []string{"a.txt", "b.md", "c.txt"} {
		if err := fs.SaveTextFile("docs", name, []byte("内容")); err != nil {
			t.Fatalf("保存文件失败: %v", err)
		}
	}

	files, err := fs.ListFiles("docs", ".txt")
	if err != nil {
		t.Fatalf("列出文件失败: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("期望2个txt文件，实际 %d: %v", len(files), files)
	}

	files, err = fs.ListFiles("no_such_dir", ".txt")
	if err != nil {
		t.Fatalf("不存在的目录应返回空列表: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("不存在的目录应为空，实际 %v", files)
	}
}

func TestClose_IdempotentAndReadableAfter(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	if err := fs.SaveTextFile("docs", "a.txt", []byte("内容")); err != nil {
		t.Fatalf("保存文件失败: %v", err)
	}

	fs.Close()
	fs.Close()

	// 停止清理协程只影响后台任务，读写路径不受影响
	if _, err := fs.LoadTextFile("docs", "a.txt"); err != nil {
		t.Errorf("关闭后读取仍应可用: %v", err)
	}
}
