package vm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultImageTool is the disk-image CLI.
	DefaultImageTool = "qemu-img"

	// DefaultImageTimeout bounds create, resize and info.
	DefaultImageTimeout = 30 * time.Second

	// DefaultConvertTimeout bounds convert, which copies data.
	DefaultConvertTimeout = 60 * time.Second

	// DefaultImageFormat is used for disks made by Create.
	DefaultImageFormat = "qcow2"
)

// imageFormats maps accepted file extensions to qemu-img formats.
var imageFormats = map[string]string{
	".qcow2": "qcow2",
	".img":   "raw",
	".raw":   "raw",
	".vdi":   "vdi",
	".vmdk":  "vmdk",
}

// Formats returns the accepted disk image extensions, sorted.
func Formats() []string {
	exts := make([]string, 0, len(imageFormats))
	for ext := range imageFormats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// FormatForPath returns the image format implied by path's extension.
func FormatForPath(path string) (string, error) {
	format, ok := imageFormats[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", fmt.Errorf("%w: %s (want one of %s)", ErrInvalidImagePath, path, strings.Join(Formats(), ", "))
	}
	return format, nil
}

// ImageInfo describes a disk image.
type ImageInfo struct {
	Path        string `json:"filename" yaml:"path"`
	Format      string `json:"format" yaml:"format"`
	VirtualSize int64  `json:"virtual-size" yaml:"virtual_size"`
	ActualSize  int64  `json:"actual-size" yaml:"actual_size"`
}

// DiskImager is the disk provisioning the orchestrator relies on.
type DiskImager interface {
	Create(ctx context.Context, path string, sizeGB int, preallocate bool) error
	Delete(path string) error
}

// ImageConfig configures an ImageManager.
type ImageConfig struct {
	Tool           string
	Timeout        time.Duration
	ConvertTimeout time.Duration
	Logger         hclog.Logger
}

// ImageManager handles disk image creation and management through the
// external image tool. Every call is bounded by a timeout, after which
// the tool is killed.
type ImageManager struct {
	tool           string
	timeout        time.Duration
	convertTimeout time.Duration
	log            hclog.Logger
}

// NewImageManager creates an image manager. Zero fields take defaults.
func NewImageManager(cfg ImageConfig) *ImageManager {
	if cfg.Tool == "" {
		cfg.Tool = DefaultImageTool
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultImageTimeout
	}
	if cfg.ConvertTimeout <= 0 {
		cfg.ConvertTimeout = DefaultConvertTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &ImageManager{
		tool:           cfg.Tool,
		timeout:        cfg.Timeout,
		convertTimeout: cfg.ConvertTimeout,
		log:            cfg.Logger.Named("images"),
	}
}

// Available reports whether the image tool resolves on this host.
func (m *ImageManager) Available() bool {
	_, err := exec.LookPath(m.tool)
	return err == nil
}

// Create makes a new image of sizeGB gigabytes at path, in the format
// implied by its extension. A partially written file is removed on failure.
func (m *ImageManager) Create(ctx context.Context, path string, sizeGB int, preallocate bool) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	if sizeGB <= 0 {
		return fmt.Errorf("%w: disk size must be positive, got %d", ErrInvalid, sizeGB)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: disk image %s", ErrAlreadyExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create disk dir: %w", err)
	}

	args := []string{"create", "-f", format}
	if opts := createOptions(format, preallocate); opts != "" {
		args = append(args, "-o", opts)
	}
	args = append(args, path, strconv.Itoa(sizeGB)+"G")

	if _, err := m.run(ctx, m.timeout, args...); err != nil {
		m.removePartial(path)
		return fmt.Errorf("create disk image: %w", err)
	}
	m.log.Info("disk image created", "path", path, "format", format, "size_gb", sizeGB)
	return nil
}

func createOptions(format string, preallocate bool) string {
	var opts []string
	if format == "qcow2" {
		opts = append(opts, "cluster_size=65536")
	}
	if preallocate {
		if format == "qcow2" {
			opts = append(opts, "preallocation=metadata")
		} else {
			opts = append(opts, "preallocation=full")
		}
	}
	return strings.Join(opts, ",")
}

// Resize changes the virtual size of an existing image.
func (m *ImageManager) Resize(ctx context.Context, path string, sizeGB int) error {
	if sizeGB <= 0 {
		return fmt.Errorf("%w: disk size must be positive, got %d", ErrInvalid, sizeGB)
	}
	if err := requireFile(path); err != nil {
		return err
	}
	if _, err := m.run(ctx, m.timeout, "resize", path, strconv.Itoa(sizeGB)+"G"); err != nil {
		return fmt.Errorf("resize disk image: %w", err)
	}
	m.log.Info("disk image resized", "path", path, "size_gb", sizeGB)
	return nil
}

// Convert copies src into dst using format, or dst's extension when
// format is empty.
func (m *ImageManager) Convert(ctx context.Context, src, dst, format string) error {
	if format == "" {
		var err error
		if format, err = FormatForPath(dst); err != nil {
			return err
		}
	}
	if err := requireFile(src); err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: disk image %s", ErrAlreadyExists, dst)
	}
	if _, err := m.run(ctx, m.convertTimeout, "convert", "-O", format, src, dst); err != nil {
		m.removePartial(dst)
		return fmt.Errorf("convert disk image: %w", err)
	}
	m.log.Info("disk image converted", "src", src, "dst", dst, "format", format)
	return nil
}

// Info inspects an image. Without the image tool it falls back to the
// extension and the file size.
func (m *ImageManager) Info(ctx context.Context, path string) (*ImageInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat disk image: %w", err)
	}

	out, err := m.run(ctx, m.timeout, "info", "--output=json", path)
	if errors.Is(err, ErrToolUnavailable) {
		format, _ := FormatForPath(path)
		return &ImageInfo{Path: path, Format: format, VirtualSize: st.Size(), ActualSize: st.Size()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inspect disk image: %w", err)
	}

	var info ImageInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return nil, fmt.Errorf("parse image info: %w", err)
	}
	info.Path = path
	return &info, nil
}

// Delete removes an image. A missing file is not an error.
func (m *ImageManager) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete disk image: %w", err)
	}
	return nil
}

// run executes the image tool, killing it when timeout elapses.
func (m *ImageManager) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	tool, err := exec.LookPath(m.tool)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolUnavailable, m.tool)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	m.log.Debug("running image tool", "args", args)
	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: %s %s after %s", ErrImageTimeout, m.tool, args[0], timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: %s %s: exit %d: %s",
				ErrNonZeroExit, m.tool, args[0], exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("run %s: %w", m.tool, err)
	}
	return stdout.String(), nil
}

func requireFile(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("disk image: %w", err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidImagePath, path)
	}
	return nil
}

func (m *ImageManager) removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.log.Warn("failed to remove partial image", "path", path, "error", err)
	}
}

var _ DiskImager = (*ImageManager)(nil)
