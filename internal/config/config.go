// Package config adapts Viper to the plugin.Config interface and builds the
// process logger.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/upkeep/pkg/plugin"
)

var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig implements plugin.Config on a Viper instance.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v. A nil v yields an empty config.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Unmarshal(target any) error           { return c.v.Unmarshal(target) }
func (c *ViperConfig) Get(key string) any                   { return c.v.Get(key) }
func (c *ViperConfig) GetString(key string) string          { return c.v.GetString(key) }
func (c *ViperConfig) GetStringSlice(key string) []string   { return c.v.GetStringSlice(key) }
func (c *ViperConfig) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *ViperConfig) GetFloat64(key string) float64        { return c.v.GetFloat64(key) }
func (c *ViperConfig) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *ViperConfig) IsSet(key string) bool                { return c.v.IsSet(key) }

// Sub returns the section under key, or an empty config if it is absent.
func (c *ViperConfig) Sub(key string) plugin.Config {
	return New(c.v.Sub(key))
}

// ForModule returns the "modules.<name>" section with the listed top-level
// sections copied in under their own keys, so a module can read shared
// settings such as "schedule" next to its own.
func (c *ViperConfig) ForModule(name string, shared ...string) *ViperConfig {
	scoped := viper.New()
	modPrefix := "modules." + name + "."
	for _, k := range c.v.AllKeys() {
		if strings.HasPrefix(k, modPrefix) {
			scoped.Set(strings.TrimPrefix(k, modPrefix), c.v.Get(k))
			continue
		}
		for _, section := range shared {
			if strings.HasPrefix(k, section+".") {
				scoped.Set(k, c.v.Get(k))
			}
		}
	}
	return New(scoped)
}

// Viper exposes the underlying instance for top-level server settings.
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}
