package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanstorm/qvmctl/internal/vm"
)

var diskCmd = &cobra.Command{
	Use:   "disk",
	Short: "Manage disk images",
	Long: `Create, resize, convert, inspect and delete disk images with qemu-img.
The image format follows the file extension (` + ".qcow2, .vdi, .vmdk, .vhd, .img" + `).`,
}

var diskCreateCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a disk image",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiskCreate,
}

var diskResizeCmd = &cobra.Command{
	Use:   "resize <path>",
	Short: "Change the virtual size of a disk image",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiskResize,
}

var diskConvertCmd = &cobra.Command{
	Use:   "convert <src> <dst>",
	Short: "Convert a disk image to another format",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiskConvert,
}

var diskInfoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Show disk image information",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiskInfo,
}

var diskDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a disk image",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiskDelete,
}

var (
	diskSizeGB      int
	diskPreallocate bool
	diskFormat      string
	diskInfoOutput  string
)

func init() {
	diskCreateCmd.Flags().IntVarP(&diskSizeGB, "size", "s", 20, "Size in GB")
	diskCreateCmd.Flags().BoolVar(&diskPreallocate, "preallocate", false, "Preallocate the image")
	diskResizeCmd.Flags().IntVarP(&diskSizeGB, "size", "s", 0, "New size in GB")
	diskResizeCmd.MarkFlagRequired("size")
	diskConvertCmd.Flags().StringVarP(&diskFormat, "format", "f", "", "Target format (default: from the destination extension)")
	diskInfoCmd.Flags().StringVarP(&diskInfoOutput, "output", "o", "", "Output format (yaml, json)")

	diskCmd.AddCommand(diskCreateCmd)
	diskCmd.AddCommand(diskResizeCmd)
	diskCmd.AddCommand(diskConvertCmd)
	diskCmd.AddCommand(diskInfoCmd)
	diskCmd.AddCommand(diskDeleteCmd)

	rootCmd.AddCommand(diskCmd)
}

func imageManager() *vm.ImageManager {
	cfg := currentConfig().ImageConfig()
	cfg.Logger = newLogger()
	return vm.NewImageManager(cfg)
}

func runDiskCreate(cmd *cobra.Command, args []string) error {
	if err := imageManager().Create(cmd.Context(), args[0], diskSizeGB, diskPreallocate); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%d GB)\n", args[0], diskSizeGB)
	return nil
}

func runDiskResize(cmd *cobra.Command, args []string) error {
	if err := imageManager().Resize(cmd.Context(), args[0], diskSizeGB); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resized %s to %d GB\n", args[0], diskSizeGB)
	return nil
}

func runDiskConvert(cmd *cobra.Command, args []string) error {
	if err := imageManager().Convert(cmd.Context(), args[0], args[1], diskFormat); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Converted %s to %s\n", args[0], args[1])
	return nil
}

func runDiskInfo(cmd *cobra.Command, args []string) error {
	info, err := imageManager().Info(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if diskInfoOutput != "" {
		return writeStructured(out, diskInfoOutput, info)
	}
	fmt.Fprintf(out, "Path:         %s\n", info.Path)
	fmt.Fprintf(out, "Format:       %s\n", info.Format)
	fmt.Fprintf(out, "Virtual size: %s\n", formatBytes(info.VirtualSize))
	fmt.Fprintf(out, "Disk size:    %s\n", formatBytes(info.ActualSize))
	return nil
}

func runDiskDelete(cmd *cobra.Command, args []string) error {
	if err := imageManager().Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}
