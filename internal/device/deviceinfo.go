// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

const keyPrefix = "deviceinfo_"

// DefaultKernel is the kernel variant whose suffixed keys are applied.
const DefaultKernel = "mainline"

// Attributes are the known deviceinfo variables without prefix. Missing
// ones are set to the empty string.
//
// Reference: https://postmarketos.org/deviceinfo
var Attributes = []string{
	"format_version", "name", "manufacturer", "codename", "year", "dtb",
	"modules_initfs", "arch",
	"chassis", "keyboard", "external_storage", "screen_width", "screen_height",
	"dev_touchscreen", "dev_touchscreen_calibration", "append_dtb",
	"flash_method", "boot_filesystem",
	"flash_heimdall_partition_kernel", "flash_heimdall_partition_initfs",
	"flash_heimdall_partition_system", "flash_heimdall_partition_vbmeta",
	"flash_heimdall_partition_dtbo", "flash_fastboot_partition_kernel",
	"flash_fastboot_partition_system", "flash_fastboot_partition_vbmeta",
	"flash_fastboot_partition_dtbo", "generate_legacy_uboot_initfs",
	"kernel_cmdline", "generate_bootimg", "bootimg_qcdt", "bootimg_mtk_mkimage",
	"bootimg_dtb_second", "flash_offset_base", "flash_offset_kernel",
	"flash_offset_ramdisk", "flash_offset_second", "flash_offset_tags",
	"flash_pagesize", "flash_fastboot_max_size", "flash_sparse",
	"flash_sparse_samsung_format", "rootfs_image_sector_size",
	"sd_embed_firmware", "sd_embed_firmware_step_size", "partition_blacklist",
	"boot_part_start", "partition_type", "root_filesystem",
	"flash_kernel_on_update", "cgpt_kpart", "cgpt_kpart_start",
	"cgpt_kpart_size",
	"weston_pixman_type",
	"keymaps",
}

// ChassisTypes are the valid chassis values, see machine-info(5).
var ChassisTypes = []string{
	"desktop", "laptop", "convertible", "server", "tablet", "handset",
	"watch", "embedded", "vm",
}

var archOverrides = map[string]sys.Arch{
	"armv7": sys.ARMv7h,
}

// legacyKeys map keys no longer supported to the advice given for them.
var legacyKeys = []struct {
	keys   []string
	advice string
}{
	{[]string{"flash_methods"}, "deviceinfo_flash_methods has been renamed to deviceinfo_flash_method"},
	{[]string{"external_disk", "external_disk_install"}, "use deviceinfo_external_storage instead of " +
		"deviceinfo_external_disk and deviceinfo_external_disk_install"},
	{[]string{"msm_refresher"}, "deviceinfo_msm_refresher is obsolete, depend on msm-fb-refresher instead"},
	{[]string{"flash_fastboot_vendor_id"}, "fastboot doesn't allow specifying the vendor ID anymore"},
	{[]string{"nonfree"}, "deviceinfo_nonfree is unused"},
	{[]string{"dev_keyboard"}, "deviceinfo_dev_keyboard is unused"},
	{[]string{"date"}, "deviceinfo_date was replaced by deviceinfo_year"},
}

// Info is a parsed deviceinfo file.
type Info struct {
	Arch          sys.Arch
	Name          string
	Manufacturer  string
	Codename      string
	Chassis       string
	FlashMethod   string
	FlashPagesize int

	// Values holds all variables, including unknown ones.
	Values map[string]string
}

// Get returns the value of the variable key without prefix.
func (i *Info) Get(key string) string {
	return i.Values[key]
}

// SectorSize returns the rootfs_image_sector_size or 0 if unset.
func (i *Info) SectorSize() int {
	size, err := strconv.Atoi(i.Values["rootfs_image_sector_size"])
	if err != nil {
		return 0
	}

	return size
}

// ParseValues reads the deviceinfo_ variables from reader. Quotes are
// removed from values. Lines with other keys are skipped with a warning.
func ParseValues(reader io.Reader, deviceName string) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("%s: %w: no '=' found in %q", deviceName, ErrSyntax, line)
		}

		name, found := strings.CutPrefix(key, keyPrefix)
		if !found {
			slog.Warn("Unknown key in deviceinfo",
				slog.String("device", deviceName),
				slog.String("key", key),
			)

			continue
		}

		values[name] = strings.ReplaceAll(value, `"`, "")
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("read deviceinfo: %w", err)
	}

	return values, nil
}

// ApplyKernelSuffix moves variables with the suffix of kernel to their
// plain names, so "dtb_mainline" replaces "dtb" for the mainline kernel.
func ApplyKernelSuffix(values map[string]string, kernel string) map[string]string {
	if kernel == "" {
		return values
	}

	result := maps.Clone(values)
	suffix := "_" + strings.ReplaceAll(kernel, "-", "_")

	for _, key := range Attributes {
		value, found := result[key+suffix]
		if !found {
			continue
		}

		slog.Debug("Applying kernel suffix", slog.String("key", key+suffix))

		result[key] = value
		delete(result, key+suffix)
	}

	return result
}

// SanityCheck validates the values of the deviceinfo file at path for the
// device deviceName. All problems are collected in a [SanityError].
func SanityCheck(values map[string]string, deviceName, path string) error {
	var errs []error

	for _, legacy := range legacyKeys {
		for _, key := range legacy.keys {
			if _, found := values[key]; found {
				errs = append(errs, errors.New(legacy.advice))
				break
			}
		}
	}

	codename := strings.TrimPrefix(filepath.Base(filepath.Dir(path)), "device-")
	alternative := codename

	// kupfer device names are prefixed with the SoC
	if strings.Count(codename, "-") > 1 {
		_, alternative, _ = strings.Cut(codename, "-")
	}

	if got := values["codename"]; got == "" || (got != codename && got != alternative) {
		errs = append(errs, fmt.Errorf(`deviceinfo_codename="%s" missing`, codename))
	}

	chassis := values["chassis"]

	switch {
	case chassis == "":
		errs = append(errs, errors.New(
			"deviceinfo_chassis missing, most commonly used are 'handset' and 'tablet'",
		))
	case !slices.Contains(ChassisTypes, chassis):
		errs = append(errs, fmt.Errorf(
			"unknown chassis type %q, should be one of %s", chassis, strings.Join(ChassisTypes, ", "),
		))
	}

	if values["arch"] == "" {
		errs = append(errs, errors.New("deviceinfo_arch missing"))
	}

	if len(errs) > 0 {
		return &SanityError{Device: deviceName, Path: path, Errs: errs}
	}

	return nil
}

// ParseInfo parses and validates a deviceinfo file. Path is the location
// of the file in the pkgbuilds tree, used for codename checks and messages.
func ParseInfo(reader io.Reader, deviceName, path, kernel string) (*Info, error) {
	values, err := ParseValues(reader, deviceName)
	if err != nil {
		return nil, err
	}

	for _, key := range Attributes {
		if _, found := values[key]; !found {
			values[key] = ""
		}
	}

	values = ApplyKernelSuffix(values, kernel)

	err = SanityCheck(values, deviceName, path)
	if err != nil {
		return nil, err
	}

	archName := values["arch"]
	if override, found := archOverrides[archName]; found {
		archName = string(override)
		values["arch"] = archName
	}

	arch, err := sys.ParseArch(archName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", deviceName, err)
	}

	info := &Info{
		Arch:         arch,
		Name:         values["name"],
		Manufacturer: values["manufacturer"],
		Codename:     values["codename"],
		Chassis:      values["chassis"],
		FlashMethod:  values["flash_method"],
		Values:       values,
	}

	if pagesize := values["flash_pagesize"]; pagesize != "" {
		info.FlashPagesize, err = strconv.Atoi(pagesize)
		if err != nil {
			return nil, fmt.Errorf("%s: deviceinfo_flash_pagesize: %w", deviceName, err)
		}
	}

	return info, nil
}
