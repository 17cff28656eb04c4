//go:build !windows

package vm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/javanstorm/qvmctl/internal/testutil"
)

func TestFormatForPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"disk.qcow2", "qcow2", false},
		{"disk.QCOW2", "qcow2", false},
		{"disk.img", "raw", false},
		{"disk.raw", "raw", false},
		{"disk.vdi", "vdi", false},
		{"disk.vmdk", "vmdk", false},
		{"disk.iso", "", true},
		{"disk", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatForPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FormatForPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidImagePath) {
				t.Errorf("error = %v, want ErrInvalidImagePath", err)
			}
			if got != tt.want {
				t.Errorf("FormatForPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestCreateOptions(t *testing.T) {
	tests := []struct {
		format      string
		preallocate bool
		want        string
	}{
		{"qcow2", false, "cluster_size=65536"},
		{"qcow2", true, "cluster_size=65536,preallocation=metadata"},
		{"raw", false, ""},
		{"raw", true, "preallocation=full"},
	}
	for _, tt := range tests {
		if got := createOptions(tt.format, tt.preallocate); got != tt.want {
			t.Errorf("createOptions(%q, %v) = %q, want %q", tt.format, tt.preallocate, got, tt.want)
		}
	}
}

func TestImageCreate(t *testing.T) {
	tool := testutil.FakeImageTool(t, testutil.ImageToolWorks)
	im := NewImageManager(ImageConfig{Tool: tool})
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "nested", "disk.qcow2")
	if err := im.Create(ctx, path, 20, false); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("disk file not created: %v", err)
	}

	if err := im.Create(ctx, path, 20, false); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Create over existing error = %v, want ErrAlreadyExists", err)
	}
	if err := im.Create(ctx, filepath.Join(t.TempDir(), "x.qcow2"), 0, false); !errors.Is(err, ErrInvalid) {
		t.Errorf("Create with zero size error = %v, want ErrInvalid", err)
	}
	if err := im.Create(ctx, filepath.Join(t.TempDir(), "x.iso"), 1, false); !errors.Is(err, ErrInvalidImagePath) {
		t.Errorf("Create with bad extension error = %v, want ErrInvalidImagePath", err)
	}
}

func TestImageCreateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mode    testutil.ImageToolMode
		timeout time.Duration
		wantErr error
	}{
		{"non-zero exit", testutil.ImageToolFails, time.Second, ErrNonZeroExit},
		{"partial output", testutil.ImageToolPartial, time.Second, ErrNonZeroExit},
		{"hang", testutil.ImageToolHangs, 200 * time.Millisecond, ErrImageTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := testutil.FakeImageTool(t, tt.mode)
			im := NewImageManager(ImageConfig{Tool: tool, Timeout: tt.timeout})

			path := filepath.Join(t.TempDir(), "disk.qcow2")
			start := time.Now()
			err := im.Create(context.Background(), path, 10, false)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create error = %v, want %v", err, tt.wantErr)
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Errorf("Create took %s", elapsed)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Errorf("partial image left behind: %v", err)
			}
		})
	}
}

func TestImageToolUnavailable(t *testing.T) {
	dir := t.TempDir()
	im := NewImageManager(ImageConfig{Tool: filepath.Join(dir, "missing-qemu-img")})

	if im.Available() {
		t.Error("Available() = true for missing tool")
	}
	err := im.Create(context.Background(), filepath.Join(dir, "disk.qcow2"), 1, false)
	if !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("Create error = %v, want ErrToolUnavailable", err)
	}

	// Info falls back to the extension and file size.
	path := filepath.Join(dir, "disk.img")
	testutil.CreateTestDisk(t, path, 1)
	info, err := im.Info(context.Background(), path)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Format != "raw" || info.VirtualSize != 1024*1024 {
		t.Errorf("Info = %+v", info)
	}
}

func TestImageInfo(t *testing.T) {
	tool := testutil.FakeImageTool(t, testutil.ImageToolWorks)
	im := NewImageManager(ImageConfig{Tool: tool})

	path := filepath.Join(t.TempDir(), "disk.qcow2")
	testutil.CreateTestDisk(t, path, 1)

	info, err := im.Info(context.Background(), path)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Format != "qcow2" || info.VirtualSize != 21474836480 || info.ActualSize != 196608 {
		t.Errorf("Info = %+v", info)
	}
	if info.Path != path {
		t.Errorf("Info.Path = %q, want %q", info.Path, path)
	}

	if _, err := im.Info(context.Background(), filepath.Join(t.TempDir(), "none.qcow2")); err == nil {
		t.Error("Info succeeded for a missing file")
	}
}

func TestImageResizeAndConvert(t *testing.T) {
	tool := testutil.FakeImageTool(t, testutil.ImageToolWorks)
	im := NewImageManager(ImageConfig{Tool: tool})
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "disk.img")
	testutil.CreateTestDisk(t, src, 1)

	if err := im.Resize(ctx, src, 40); err != nil {
		t.Errorf("Resize failed: %v", err)
	}
	if err := im.Resize(ctx, src, 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("Resize to zero error = %v, want ErrInvalid", err)
	}
	if err := im.Resize(ctx, filepath.Join(dir, "missing.img"), 1); err == nil {
		t.Error("Resize succeeded for a missing file")
	}

	dst := filepath.Join(dir, "disk.qcow2")
	if err := im.Convert(ctx, src, dst, ""); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("converted image missing: %v", err)
	}
	if err := im.Convert(ctx, src, dst, ""); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Convert onto existing error = %v, want ErrAlreadyExists", err)
	}
}

func TestImageDelete(t *testing.T) {
	im := NewImageManager(ImageConfig{})
	path := filepath.Join(t.TempDir(), "disk.qcow2")
	testutil.CreateTestDisk(t, path, 1)

	if err := im.Delete(path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disk should not exist after deletion")
	}
	if err := im.Delete(path); err != nil {
		t.Errorf("Delete should not error for non-existent disk: %v", err)
	}
}
