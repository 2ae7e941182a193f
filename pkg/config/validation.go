package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittocore/pkg/mmu"
	"github.com/marmos91/dittocore/pkg/swap"
)

// minDiskSectors leaves room for the free-map file, the volume header and a
// handful of files.
const minDiskSectors = 16

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Disk.Sectors < minDiskSectors {
		return fmt.Errorf("disk: %d sectors cannot hold a file system", cfg.Disk.Sectors)
	}

	// The swap device must hold at least one page
	if cfg.Swap.Sectors < swap.SectorsPerSlot {
		return fmt.Errorf("swap: %d sectors is less than one %d-sector slot", cfg.Swap.Sectors, swap.SectorsPerSlot)
	}

	if cfg.Memory.MaxStackSize%mmu.PageSize != 0 {
		return fmt.Errorf("memory: max_stack_size %d is not a multiple of the page size", cfg.Memory.MaxStackSize)
	}

	// Disk and swap must not share backing storage
	if cfg.Disk.Type == cfg.Swap.Type {
		if p := devicePath(&cfg.Disk); p != "" && p == devicePath(&cfg.Swap) {
			return fmt.Errorf("disk and swap both use %s %q", cfg.Disk.Type, p)
		}
	}

	if cfg.Cache.FlushInterval > 0 && cfg.Cache.FlushRate == 0 {
		return fmt.Errorf("cache: flush_rate must be positive when flush_interval is set")
	}

	return nil
}

// devicePath returns the local path a backend writes to, if any.
func devicePath(cfg *BlockDeviceConfig) string {
	var opts map[string]any
	key := "path"
	switch cfg.Type {
	case "filesystem":
		opts = cfg.Filesystem
	case "badger":
		opts, key = cfg.Badger, "db_path"
	case "bolt":
		opts = cfg.Bolt
	default:
		return ""
	}
	p, _ := opts[key].(string)
	return p
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
