package crawler

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/wiserep-spider/internal/wiserep"
)

// Config captures the knobs that shape a crawl run.
type Config struct {
	ObjectsURL      string
	HostCatalogURL  string
	RecentDaysField string
	RowsLimit       int

	Update bool
	Days   int
	// Event restricts the run to one name.
	Event string

	// AllowTypes is exclusive when non-empty; otherwise DenyTypes applies.
	AllowTypes       []string
	DenyTypes        []string
	ExcludedPrograms []string
	// ResetOnFullRun clears the completed set after a full pass.
	ResetOnFullRun bool

	// Topic receives a notification for every event with new files.
	Topic string
}

// Mode reports the run mode implied by the config.
func (c Config) Mode() RunMode {
	switch {
	case c.Event != "":
		return ModeSingle
	case c.Update:
		return ModeUpdate
	default:
		return ModeFull
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ObjectsURL) == "" {
		return fmt.Errorf("objects url must be set")
	}
	if c.Update && c.Days <= 0 {
		return fmt.Errorf("days must be > 0 in update mode")
	}
	if c.Update && c.RecentDaysField == "" {
		return fmt.Errorf("recent days field must be set in update mode")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.DenyTypes == nil {
		c.DenyTypes = DefaultDenyTypes
	}
	if c.ExcludedPrograms == nil {
		c.ExcludedPrograms = wiserep.DefaultExcludedPrograms
	}
	return c
}
